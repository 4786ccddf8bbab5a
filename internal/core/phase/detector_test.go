package phase

import (
	"testing"

	"github.com/charleschow/rugstream/internal/events"
)

func TestDetectPriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		m    map[string]any
		want events.Phase
	}{
		{"active game", map[string]any{"active": true, "rugged": false}, events.PhaseActive},
		{"rug wins over active", map[string]any{"active": true, "rugged": true}, events.PhaseRugged},
		{"rugged only", map[string]any{"rugged": true}, events.PhaseRugged},
		{"presale during cooldown", map[string]any{"cooldownTimer": 15000, "allowPreRoundBuys": true}, events.PhasePresale},
		{"cooldown without buys", map[string]any{"cooldownTimer": 15000, "allowPreRoundBuys": false}, events.PhaseCooldown},
		{"presale with zero timer", map[string]any{"cooldownTimer": 0, "allowPreRoundBuys": true}, events.PhasePresale},
		{"nothing set", map[string]any{}, events.PhaseUnknown},
		{"json float timer", map[string]any{"cooldownTimer": float64(300)}, events.PhaseCooldown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.m); got != tc.want {
				t.Fatalf("Detect(%v) = %s, want %s", tc.m, got, tc.want)
			}
			// pure: same input, same answer
			if got := Detect(tc.m); got != tc.want {
				t.Fatalf("Detect is not deterministic for %v", tc.m)
			}
		})
	}
}

func TestProcessFirstClassificationTransitions(t *testing.T) {
	d := NewDetector()

	tr := d.Process(map[string]any{"gameId": "G1", "active": true})
	if tr == nil {
		t.Fatal("first non-UNKNOWN tick must emit a transition")
	}
	if tr.PrevPhase != events.PhaseUnknown || tr.NewPhase != events.PhaseActive {
		t.Fatalf("transition %+v, want UNKNOWN->ACTIVE", tr)
	}
	if tr.IsNewGame {
		t.Fatal("empty->G1 is adoption, not a new game")
	}

	// same phase, same game: silent
	if tr := d.Process(map[string]any{"gameId": "G1", "active": true}); tr != nil {
		t.Fatalf("steady tick emitted %+v", tr)
	}
}

func TestProcessRugWithSeedReveal(t *testing.T) {
	d := NewDetector()
	d.Process(map[string]any{"gameId": "G1", "active": true})

	tr := d.Process(map[string]any{
		"gameId": "G1",
		"active": true,
		"rugged": true,
		"provablyFair": map[string]any{
			"serverSeed":     "revealed_seed",
			"serverSeedHash": "abc",
		},
	})
	if tr == nil {
		t.Fatal("rug must transition")
	}
	if tr.NewPhase != events.PhaseRugged {
		t.Fatalf("phase %s, want RUGGED", tr.NewPhase)
	}
	if !tr.IsSeedReveal {
		t.Fatal("same-game rug with revealed seed must set IsSeedReveal")
	}
	if tr.IsNewGame {
		t.Fatal("rug on the same game is not a new game")
	}
	if d.RugCount() != 1 {
		t.Fatalf("rug count %d, want 1", d.RugCount())
	}
}

func TestProcessRugWithoutSeed(t *testing.T) {
	d := NewDetector()
	d.Process(map[string]any{"gameId": "G1", "active": true})

	tr := d.Process(map[string]any{"gameId": "G1", "rugged": true})
	if tr == nil || tr.IsSeedReveal {
		t.Fatalf("rug without a seed must not report a reveal: %+v", tr)
	}
}

func TestProcessNewGame(t *testing.T) {
	d := NewDetector()
	d.Process(map[string]any{"gameId": "G1", "active": true})
	d.Process(map[string]any{"gameId": "G1", "rugged": true})

	tr := d.Process(map[string]any{
		"gameId":            "G2",
		"cooldownTimer":     15000,
		"allowPreRoundBuys": false,
	})
	if tr == nil {
		t.Fatal("new game id must transition")
	}
	if tr.PrevGameID != "G1" || tr.NewGameID != "G2" {
		t.Fatalf("game ids %s->%s, want G1->G2", tr.PrevGameID, tr.NewGameID)
	}
	if !tr.IsNewGame {
		t.Fatal("G1->G2 must set IsNewGame")
	}
	if tr.NewPhase != events.PhaseCooldown {
		t.Fatalf("phase %s, want COOLDOWN", tr.NewPhase)
	}
	if d.GamesSeen() != 1 {
		t.Fatalf("games seen %d, want 1", d.GamesSeen())
	}
}

func TestProcessGameChangeWithoutPhaseChange(t *testing.T) {
	d := NewDetector()
	d.Process(map[string]any{"gameId": "G1", "active": true})

	// same phase, different game: still a transition
	tr := d.Process(map[string]any{"gameId": "G2", "active": true})
	if tr == nil || !tr.IsNewGame {
		t.Fatalf("id swap within one phase must transition: %+v", tr)
	}
	if tr.PrevPhase != events.PhaseActive || tr.NewPhase != events.PhaseActive {
		t.Fatalf("phases %s->%s, want ACTIVE->ACTIVE", tr.PrevPhase, tr.NewPhase)
	}
}

func TestProcessEmptyIDNeverErasesGame(t *testing.T) {
	d := NewDetector()
	d.Process(map[string]any{"gameId": "G1", "active": true})
	d.Process(map[string]any{"active": true}) // id missing on the wire

	if d.GameID() != "G1" {
		t.Fatalf("game id %q, want G1 kept", d.GameID())
	}
}

func TestProcessInitialUnknownStaysSilent(t *testing.T) {
	d := NewDetector()
	if tr := d.Process(map[string]any{"gameId": "G1"}); tr != nil {
		t.Fatalf("UNKNOWN->UNKNOWN emitted %+v", tr)
	}
	if d.GameID() != "G1" {
		t.Fatal("detector should still adopt the game id")
	}
}
