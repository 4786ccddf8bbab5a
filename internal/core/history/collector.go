package history

import (
	"golang.org/x/sync/singleflight"

	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/telemetry"
)

// Collector watches the game channel for rug transitions and schedules
// history collection. Collection is sampled (every Nth rug) with a mandatory
// override whenever the rug tick carries a fresh god candle; the
// lastRugGameID guard keeps the repeated RUGGED ticks of one game from
// re-firing.
type Collector struct {
	interval int
	store    *Store

	// mutated only on the pipeline's receive goroutine
	lastRugGameID string
	rugsSeen      int64

	collections  telemetry.Counter
	godOverrides telemetry.Counter

	sf      singleflight.Group
	collect func(gameID, reason string) error
}

// NewCollector samples every interval-th rug. store may be nil; collections
// are then only logged.
func NewCollector(interval int, store *Store) *Collector {
	if interval <= 0 {
		interval = 10
	}
	c := &Collector{interval: interval, store: store}
	c.collect = c.markCollection
	return c
}

// Watch is the game-channel bus handler.
func (c *Collector) Watch(evt events.SanitizedEvent) error {
	if evt.Channel != events.ChannelGame || evt.Phase != events.PhaseRugged {
		return nil
	}
	gameID := evt.GameID
	if gameID == "" || gameID == c.lastRugGameID {
		return nil
	}
	c.lastRugGameID = gameID
	c.rugsSeen++

	var reason string
	tick, _ := evt.Data.(*events.GameTick)
	switch {
	case tick != nil && tick.HasGodCandle:
		reason = "god_candle"
		c.godOverrides.Inc()
	case c.rugsSeen%int64(c.interval) == 0:
		reason = "interval"
	default:
		return nil
	}

	go c.CollectNow(gameID, reason)
	return nil
}

// CollectNow runs one collection. Concurrent triggers for the same game
// collapse to a single run; the collections counter counts runs, not
// callers.
func (c *Collector) CollectNow(gameID, reason string) error {
	_, err, _ := c.sf.Do(gameID, func() (any, error) {
		if err := c.collect(gameID, reason); err != nil {
			return nil, err
		}
		c.collections.Inc()
		return nil, nil
	})
	if err != nil {
		telemetry.Warnf("history: collect %s (%s): %v", gameID, reason, err)
	}
	return err
}

func (c *Collector) markCollection(gameID, reason string) error {
	telemetry.Infof("history: collecting game %s (%s)", gameID, reason)
	if c.store == nil {
		return nil
	}
	return c.store.MarkCollection(gameID, reason)
}

func (c *Collector) RugsSeen() int64    { return c.rugsSeen }
func (c *Collector) Collections() int64 { return c.collections.Value() }

func (c *Collector) Stats() map[string]any {
	return map[string]any{
		"rugs_seen":        c.rugsSeen,
		"collections":      c.collections.Value(),
		"god_overrides":    c.godOverrides.Value(),
		"last_rug_game_id": c.lastRugGameID,
		"interval":         c.interval,
	}
}
