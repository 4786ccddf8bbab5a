package godcandle

import (
	"github.com/charleschow/rugstream/internal/events"
)

// Detector turns the upstream's level-triggered daily-record reports into an
// edge-triggered signal. The feed re-sends the same god-candle data on every
// transition tick for the rest of the UTC day; only the first sighting of a
// tier's game id counts.
//
// Owned by the pipeline goroutine; no locking.
type Detector struct {
	seen          map[string]struct{}
	newDetections int64
}

func NewDetector() *Detector {
	return &Detector{seen: make(map[string]struct{})}
}

// Check reports whether dr carries at least one tier game id not seen this
// session. New ids are remembered, so a repeat of the same records answers
// false.
func (d *Detector) Check(dr *events.DailyRecords) bool {
	if dr == nil {
		return false
	}
	ids := dr.PopulatedGameIDs()
	if len(ids) == 0 {
		return false
	}

	fresh := false
	for _, id := range ids {
		if _, ok := d.seen[id]; !ok {
			d.seen[id] = struct{}{}
			fresh = true
		}
	}
	if fresh {
		d.newDetections++
	}
	return fresh
}

func (d *Detector) NewDetections() int64 { return d.newDetections }

func (d *Detector) Stats() map[string]any {
	return map[string]any{
		"seen_game_ids":  len(d.seen),
		"new_detections": d.newDetections,
	}
}
