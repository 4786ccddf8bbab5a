package phase

import (
	"github.com/charleschow/rugstream/internal/events"
)

// Transition reports a change in the (phase, game id) pair.
type Transition struct {
	PrevPhase    events.Phase
	NewPhase     events.Phase
	PrevGameID   string
	NewGameID    string
	IsNewGame    bool
	IsSeedReveal bool
}

// Detector classifies raw ticks into lifecycle phases and tracks the
// current game. Process must be called from a single goroutine; the
// upstream receive loop owns it.
type Detector struct {
	phase       events.Phase
	gameID      string
	rugCount    int64
	gamesSeen   int64
	transitions int64
}

func NewDetector() *Detector {
	return &Detector{phase: events.PhaseUnknown}
}

// Detect classifies one raw tick. Pure: depends only on the input.
// Priority order matters: a rugged tick can still carry active=true during
// the overlap window, and the rug wins.
func Detect(m map[string]any) events.Phase {
	active := events.AsBool(m["active"])
	rugged := events.AsBool(m["rugged"])
	cooldown := events.AsInt(m["cooldownTimer"], 0)
	presale := events.AsBool(m["allowPreRoundBuys"])

	switch {
	case active && !rugged:
		return events.PhaseActive
	case rugged:
		return events.PhaseRugged
	case cooldown > 0 && presale:
		return events.PhasePresale
	case cooldown > 0:
		return events.PhaseCooldown
	case presale:
		// near-zero-timer edge: buys already open, timer not yet visible
		return events.PhasePresale
	default:
		return events.PhaseUnknown
	}
}

// Detect is the method form of the package classifier.
func (d *Detector) Detect(m map[string]any) events.Phase {
	return Detect(m)
}

// Process classifies the tick and updates detector state. It returns a
// Transition when the phase changed or a non-empty game id was replaced by
// a different non-empty one; otherwise nil. The initial state is
// UNKNOWN with no game, so the first non-UNKNOWN tick always transitions.
func (d *Detector) Process(m map[string]any) *Transition {
	newPhase := Detect(m)
	newGameID := events.AsString(m["gameId"])

	prevPhase := d.phase
	prevGameID := d.gameID

	gameChanged := prevGameID != "" && newGameID != "" && newGameID != prevGameID
	phaseChanged := newPhase != prevPhase

	// State always advances; an empty wire id never erases a known game.
	d.phase = newPhase
	if newGameID != "" {
		d.gameID = newGameID
	}

	if !phaseChanged && !gameChanged {
		return nil
	}

	tr := &Transition{
		PrevPhase:  prevPhase,
		NewPhase:   newPhase,
		PrevGameID: prevGameID,
		NewGameID:  d.gameID,
		IsNewGame:  gameChanged,
	}
	if newPhase == events.PhaseRugged && !gameChanged {
		tr.IsSeedReveal = revealedSeed(m) != ""
		if phaseChanged {
			d.rugCount++
		}
	}
	if gameChanged {
		d.gamesSeen++
	}
	d.transitions++
	return tr
}

func revealedSeed(m map[string]any) string {
	pf := events.AsMap(m["provablyFair"])
	if pf == nil {
		return ""
	}
	return events.AsString(pf["serverSeed"])
}

// Phase returns the current lifecycle phase.
func (d *Detector) Phase() events.Phase { return d.phase }

// GameID returns the current game id ("" before the first tick carries one).
func (d *Detector) GameID() string { return d.gameID }

func (d *Detector) RugCount() int64  { return d.rugCount }
func (d *Detector) GamesSeen() int64 { return d.gamesSeen }

// Stats snapshots the detector for the pipeline's nested counters.
func (d *Detector) Stats() map[string]any {
	return map[string]any{
		"current_phase":   d.phase,
		"current_game_id": d.gameID,
		"rug_count":       d.rugCount,
		"games_seen":      d.gamesSeen,
		"transitions":     d.transitions,
	}
}
