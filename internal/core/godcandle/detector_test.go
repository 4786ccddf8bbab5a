package godcandle

import (
	"testing"

	"github.com/charleschow/rugstream/internal/events"
)

func records(ids ...string) *events.DailyRecords {
	d := &events.DailyRecords{}
	tiers := []**events.GodCandleTier{&d.Candle2x, &d.Candle10x, &d.Candle50x}
	for i, id := range ids {
		if i >= len(tiers) {
			break
		}
		*tiers[i] = &events.GodCandleTier{Multiplier: 2.0, GameID: id}
	}
	return d
}

func TestCheckEdgeTriggered(t *testing.T) {
	d := NewDetector()

	if !d.Check(records("gc-A")) {
		t.Fatal("first sighting of gc-A must report true")
	}
	if d.Check(records("gc-A")) {
		t.Fatal("stale re-report of gc-A must be suppressed")
	}
	if d.NewDetections() != 1 {
		t.Fatalf("new_detections = %d, want 1", d.NewDetections())
	}
}

func TestCheckNilAndEmpty(t *testing.T) {
	d := NewDetector()
	if d.Check(nil) {
		t.Fatal("nil records must report false")
	}
	if d.Check(&events.DailyRecords{}) {
		t.Fatal("records without populated tiers must report false")
	}
	if d.NewDetections() != 0 {
		t.Fatalf("new_detections = %d, want 0", d.NewDetections())
	}
}

func TestCheckMixedTiers(t *testing.T) {
	d := NewDetector()

	// 2x and 10x arrive together
	if !d.Check(records("gc-A", "gc-B")) {
		t.Fatal("fresh pair must report true")
	}
	// a later report repeats gc-A but adds a fresh 50x entry
	if !d.Check(records("gc-A", "gc-B", "gc-C")) {
		t.Fatal("one fresh id among stale ones must still report true")
	}
	if d.Check(records("gc-A", "gc-B", "gc-C")) {
		t.Fatal("fully stale report must be suppressed")
	}
	if d.NewDetections() != 2 {
		t.Fatalf("new_detections = %d, want 2", d.NewDetections())
	}

	// at most one true per distinct id over the whole session
	for _, id := range []string{"gc-A", "gc-B", "gc-C"} {
		if d.Check(records(id)) {
			t.Fatalf("id %s reported true twice", id)
		}
	}
}
