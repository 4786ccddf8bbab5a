package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/rugstream/internal/events"
)

func rawMsg(eventType string, data map[string]any) map[string]any {
	return map[string]any{
		"type":       "raw_event",
		"event_type": eventType,
		"data":       data,
		"timestamp":  "2025-07-01T12:00:00Z",
	}
}

func activeTick() map[string]any {
	return map[string]any{
		"gameId":            "G1",
		"active":            true,
		"rugged":            false,
		"price":             1.5,
		"tickCount":         50,
		"cooldownTimer":     0,
		"connectedPlayers":  172,
		"averageMultiplier": 15.037,
		"count2x":           52,
		"count10x":          9,
		"count50x":          1,
		"count100x":         1,
		"provablyFair":      map[string]any{"serverSeedHash": "abc", "version": "v3"},
		"leaderboard":       []any{},
	}
}

func TestProcessActiveTick(t *testing.T) {
	p := New()

	var mirrored []events.Channel
	p.RegisterCallback(events.ChannelAll, func(e events.SanitizedEvent) error {
		mirrored = append(mirrored, e.Channel)
		return nil
	})

	out := p.Process(rawMsg(events.TypeGameStateUpdate, activeTick()))
	require.Len(t, out, 2)

	require.Equal(t, events.ChannelGame, out[0].Channel)
	tick, ok := out[0].Data.(*events.GameTick)
	require.True(t, ok)
	assert.Equal(t, events.PhaseActive, out[0].Phase)
	assert.Equal(t, "G1", out[0].GameID)
	assert.False(t, tick.HasGodCandle)
	assert.Equal(t, 1.5, tick.Price)
	assert.Equal(t, 50, tick.TickCount)

	require.Equal(t, events.ChannelStats, out[1].Channel)
	stats, ok := out[1].Data.(*events.SessionStats)
	require.True(t, ok)
	assert.Equal(t, 172, stats.ConnectedPlayers)
	assert.InDelta(t, 15.037, stats.AverageMultiplier, 1e-9)

	// every emitted event is mirrored to all, preserving order
	assert.Equal(t, []events.Channel{events.ChannelGame, events.ChannelStats}, mirrored)

	assert.EqualValues(t, 1, p.Counters.EventsReceived.Value())
	assert.EqualValues(t, 1, p.Counters.GameEvents.Value())
	assert.EqualValues(t, 1, p.Counters.StatsEvents.Value())
}

func TestProcessRugIncrementsRugCount(t *testing.T) {
	p := New()
	p.Process(rawMsg(events.TypeGameStateUpdate, activeTick()))

	rug := activeTick()
	rug["active"] = false
	rug["rugged"] = true
	rug["provablyFair"] = map[string]any{
		"serverSeedHash": "abc",
		"serverSeed":     "revealed_seed",
		"version":        "v3",
	}
	out := p.Process(rawMsg(events.TypeGameStateUpdate, rug))
	require.NotEmpty(t, out)
	assert.Equal(t, events.PhaseRugged, out[0].Phase)

	tick := out[0].Data.(*events.GameTick)
	assert.Equal(t, "revealed_seed", tick.ProvablyFair.ServerSeed)

	det := p.Stats()["phase_detector"].(map[string]any)
	assert.EqualValues(t, 1, det["rug_count"])
	assert.EqualValues(t, 0, det["games_seen"])
}

func TestProcessNewGameAfterRug(t *testing.T) {
	p := New()
	p.Process(rawMsg(events.TypeGameStateUpdate, activeTick()))

	rug := activeTick()
	rug["active"] = false
	rug["rugged"] = true
	p.Process(rawMsg(events.TypeGameStateUpdate, rug))

	next := map[string]any{
		"gameId":            "G2",
		"active":            false,
		"rugged":            false,
		"cooldownTimer":     15000,
		"allowPreRoundBuys": false,
	}
	out := p.Process(rawMsg(events.TypeGameStateUpdate, next))
	require.NotEmpty(t, out)
	assert.Equal(t, events.PhaseCooldown, out[0].Phase)
	assert.Equal(t, "G2", out[0].GameID)

	det := p.Stats()["phase_detector"].(map[string]any)
	assert.EqualValues(t, 1, det["games_seen"])
	assert.Equal(t, "G2", det["current_game_id"])
}

func TestGodCandleEdgeTriggered(t *testing.T) {
	p := New()

	withCandle := func() map[string]any {
		d := activeTick()
		d["dailyRecords"] = map[string]any{
			"godCandle2x":       2.3,
			"godCandle2xGameId": "gc-A",
		}
		return d
	}

	out1 := p.Process(rawMsg(events.TypeGameStateUpdate, withCandle()))
	require.NotEmpty(t, out1)
	assert.True(t, out1[0].Data.(*events.GameTick).HasGodCandle)

	out2 := p.Process(rawMsg(events.TypeGameStateUpdate, withCandle()))
	require.NotEmpty(t, out2)
	assert.False(t, out2[0].Data.(*events.GameTick).HasGodCandle)

	god := p.Stats()["god_candle"].(map[string]any)
	assert.EqualValues(t, 1, god["new_detections"])
}

func TestForcedSellDuringRug(t *testing.T) {
	p := New()
	p.Process(rawMsg(events.TypeGameStateUpdate, activeTick()))

	rug := activeTick()
	rug["active"] = false
	rug["rugged"] = true
	p.Process(rawMsg(events.TypeGameStateUpdate, rug))

	out := p.Process(rawMsg(events.TypeNewTrade, map[string]any{
		"playerId":     "did:privy:abc",
		"username":     "degen",
		"type":         "sell",
		"amount":       0.1,
		"qty":          2.0,
		"bonusPortion": 0,
		"realPortion":  0.1,
	}))
	require.Len(t, out, 1)
	require.Equal(t, events.ChannelTrades, out[0].Channel)

	tr := out[0].Data.(*events.Trade)
	assert.True(t, tr.IsForcedSell)
	assert.Equal(t, events.TokenReal, tr.TokenType)
	assert.False(t, tr.IsPractice)
	// no game id on the trade itself: inherit the detector's
	assert.Equal(t, "G1", out[0].GameID)
	assert.Equal(t, events.PhaseRugged, out[0].Phase)
}

func TestHistoryEventsFollowGameAndStats(t *testing.T) {
	p := New()

	var order []events.Channel
	p.RegisterCallback(events.ChannelAll, func(e events.SanitizedEvent) error {
		order = append(order, e.Channel)
		return nil
	})

	d := activeTick()
	d["gameHistory"] = []any{
		map[string]any{"id": "G0", "prices": []any{1.0, 1.4, 0.02}, "peakMultiplier": 1.4, "globalTrades": nil},
		map[string]any{"gameId": "G-1", "prices": []any{1.0}, "peakMultiplier": 1.0},
	}
	out := p.Process(rawMsg(events.TypeGameStateUpdate, d))
	require.Len(t, out, 4)
	assert.Equal(t, []events.Channel{
		events.ChannelGame, events.ChannelStats, events.ChannelHistory, events.ChannelHistory,
	}, order)

	rec := out[2].Data.(*events.GameHistoryRecord)
	assert.Equal(t, "G0", rec.GameID)
	assert.NotNil(t, rec.GlobalTrades)
	assert.Empty(t, rec.GlobalTrades)
	assert.EqualValues(t, 2, p.Counters.HistoryEvents.Value())
}

func TestPracticeTokensFeedAnnotator(t *testing.T) {
	p := New()

	d := activeTick()
	d["availableShitcoins"] = []any{"0xdead", "0xbeef"}
	p.Process(rawMsg(events.TypeGameStateUpdate, d))

	out := p.Process(rawMsg(events.TypeNewTrade, map[string]any{
		"type":         "buy",
		"bonusPortion": 0.5,
		"realPortion":  0,
	}))
	require.Len(t, out, 1)
	tr := out[0].Data.(*events.Trade)
	assert.Equal(t, events.TokenPractice, tr.TokenType)
	assert.True(t, tr.IsPractice)
}

func TestCounterAccounting(t *testing.T) {
	p := New()

	p.Process(rawMsg(events.TypeGameStateUpdate, activeTick())) // game+stats
	p.Process(map[string]any{"type": "raw_event", "event_type": "gameStateUpdate"}) // no data
	p.Process(map[string]any{"type": "raw_event", "data": map[string]any{"x": 1}})  // no event_type
	p.Process(rawMsg("playerUpdate", map[string]any{"x": 1}))                       // unknown type

	assert.EqualValues(t, 4, p.Counters.EventsReceived.Value())
	assert.EqualValues(t, 1, p.Counters.EmptyEvents.Value())
	assert.EqualValues(t, 1, p.Counters.ParseErrors.Value())
	assert.EqualValues(t, 1, p.Counters.OtherEvents.Value())
	assert.EqualValues(t, 1, p.Counters.GameEvents.Value())

	// every inbound message touched a counter
	touched := p.Counters.GameEvents.Value() + p.Counters.EmptyEvents.Value() +
		p.Counters.ParseErrors.Value() + p.Counters.OtherEvents.Value()
	assert.GreaterOrEqual(t, p.Counters.EventsReceived.Value(), touched)
}

func TestCallbackErrorsDoNotStopDispatch(t *testing.T) {
	p := New()

	var delivered int
	p.RegisterCallback(events.ChannelGame, func(events.SanitizedEvent) error {
		return errors.New("subscriber hung up")
	})
	p.RegisterCallback(events.ChannelAll, func(events.SanitizedEvent) error {
		delivered++
		return nil
	})

	out := p.Process(rawMsg(events.TypeGameStateUpdate, activeTick()))
	require.Len(t, out, 2)
	assert.Equal(t, 2, delivered)
	assert.EqualValues(t, 1, p.Counters.CallbackErrors.Value())
}

func TestTimestampsNeverRegress(t *testing.T) {
	p := New()

	first := rawMsg(events.TypeGameStateUpdate, activeTick())
	first["timestamp"] = "2025-07-01T12:00:05Z"
	out1 := p.Process(first)
	require.NotEmpty(t, out1)

	second := rawMsg(events.TypeGameStateUpdate, activeTick())
	second["timestamp"] = "2025-07-01T12:00:01Z" // upstream clock hiccup
	out2 := p.Process(second)
	require.NotEmpty(t, out2)

	assert.False(t, out2[0].Timestamp.Before(out1[0].Timestamp))
	assert.Equal(t, time.Date(2025, 7, 1, 12, 0, 5, 0, time.UTC), out2[0].Timestamp)
}

func TestMalformedDataShapes(t *testing.T) {
	p := New()

	assert.Empty(t, p.Process(rawMsg(events.TypeGameStateUpdate, nil)))
	assert.Empty(t, p.Process(map[string]any{"event_type": "gameStateUpdate", "data": "not-a-map"}))
	assert.Empty(t, p.Process(map[string]any{}))
	assert.EqualValues(t, 3, p.Counters.EventsReceived.Value())
	assert.EqualValues(t, 3, p.Counters.EmptyEvents.Value())
}
