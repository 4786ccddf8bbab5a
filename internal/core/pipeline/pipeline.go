package pipeline

import (
	"time"

	"github.com/charleschow/rugstream/internal/core/godcandle"
	"github.com/charleschow/rugstream/internal/core/phase"
	"github.com/charleschow/rugstream/internal/core/trades"
	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/telemetry"
)

// Counters is the pipeline's accounting. Every inbound message touches at
// least one of these; nothing is absorbed silently.
type Counters struct {
	EventsReceived telemetry.Counter
	GameEvents     telemetry.Counter
	StatsEvents    telemetry.Counter
	TradeEvents    telemetry.Counter
	HistoryEvents  telemetry.Counter
	OtherEvents    telemetry.Counter
	ParseErrors    telemetry.Counter
	EmptyEvents    telemetry.Counter
	CallbackErrors telemetry.Counter
}

// Pipeline turns raw upstream messages into typed sanitized events and
// dispatches them through the channel bus. It owns all detector state;
// Process must be called from a single goroutine (the upstream receive
// loop).
type Pipeline struct {
	detector  *phase.Detector
	annotator *trades.Annotator
	god       *godcandle.Detector
	bus       *events.Bus

	Counters Counters
	latency  *telemetry.LatencyTracker
	lastTS   time.Time
}

func New() *Pipeline {
	return &Pipeline{
		detector:  phase.NewDetector(),
		annotator: trades.NewAnnotator(),
		god:       godcandle.NewDetector(),
		bus:       events.NewBus(),
		latency:   telemetry.NewLatencyTracker(1000),
	}
}

// RegisterCallback subscribes h to a channel. Callbacks registered on
// ChannelAll see every emitted event.
func (p *Pipeline) RegisterCallback(ch events.Channel, h events.Handler) {
	p.bus.Subscribe(ch, h)
}

// Phase reports the current lifecycle phase.
func (p *Pipeline) Phase() events.Phase { return p.detector.Phase() }

// Process sanitizes one raw upstream message. It returns the emitted events
// (already dispatched through the bus) for test visibility. Malformed input
// is counted and dropped; Process never panics outward.
func (p *Pipeline) Process(raw map[string]any) (out []events.SanitizedEvent) {
	start := time.Now()
	p.Counters.EventsReceived.Inc()
	defer func() {
		if r := recover(); r != nil {
			telemetry.Errorf("pipeline: recovered while sanitizing: %v", r)
			p.Counters.ParseErrors.Inc()
			out = nil
		}
		p.latency.Record(time.Since(start))
	}()

	data := events.AsMap(raw["data"])
	if len(data) == 0 {
		p.Counters.EmptyEvents.Inc()
		return nil
	}
	eventType := events.AsString(raw["event_type"])
	if eventType == "" {
		p.Counters.ParseErrors.Inc()
		return nil
	}
	ts := p.eventTime(raw["timestamp"])

	switch eventType {
	case events.TypeGameStateUpdate:
		out = p.sanitizeGameState(data, ts)
	case events.TypeNewTrade:
		out = p.sanitizeTrade(data, ts)
	default:
		p.Counters.OtherEvents.Inc()
		return nil
	}

	for _, evt := range out {
		if errs := p.bus.Publish(evt); len(errs) > 0 {
			p.Counters.CallbackErrors.Add(int64(len(errs)))
			for _, err := range errs {
				telemetry.Warnf("pipeline: callback on %s: %v", evt.Channel, err)
			}
		}
	}
	return out
}

// sanitizeGameState emits a game tick, a stats snapshot (always, in that
// order), and one history event per completed game the update carries.
func (p *Pipeline) sanitizeGameState(data map[string]any, ts time.Time) []events.SanitizedEvent {
	ph := p.detector.Detect(data)
	if tr := p.detector.Process(data); tr != nil {
		p.logTransition(tr)
	}

	if coins := events.AsStringSlice(practiceTokens(data)); len(coins) > 0 {
		p.annotator.UpdatePracticeTokens(coins)
	}

	tick := events.NewGameTick(data, ph)
	if tick.DailyRecords != nil {
		tick.HasGodCandle = p.god.Check(tick.DailyRecords)
	}

	out := make([]events.SanitizedEvent, 0, 2)
	out = append(out, events.SanitizedEvent{
		Channel:   events.ChannelGame,
		EventType: events.TypeGameStateUpdate,
		Data:      tick,
		Timestamp: ts,
		GameID:    tick.GameID,
		Phase:     ph,
	})
	p.Counters.GameEvents.Inc()

	out = append(out, events.SanitizedEvent{
		Channel:   events.ChannelStats,
		EventType: events.TypeGameStateUpdate,
		Data:      events.NewSessionStats(data),
		Timestamp: ts,
		GameID:    tick.GameID,
		Phase:     ph,
	})
	p.Counters.StatsEvents.Inc()

	for _, entry := range events.AsSlice(data["gameHistory"]) {
		hm := events.AsMap(entry)
		if hm == nil {
			p.Counters.ParseErrors.Inc()
			continue
		}
		rec := events.NewGameHistoryRecord(hm)
		gameID := rec.GameID
		if gameID == "" {
			gameID = tick.GameID
		}
		out = append(out, events.SanitizedEvent{
			Channel:   events.ChannelHistory,
			EventType: events.TypeGameHistory,
			Data:      rec,
			Timestamp: ts,
			GameID:    gameID,
			Phase:     ph,
		})
		p.Counters.HistoryEvents.Inc()
	}
	return out
}

func (p *Pipeline) sanitizeTrade(data map[string]any, ts time.Time) []events.SanitizedEvent {
	t := events.NewTrade(data)
	ph := p.detector.Phase()
	p.annotator.Annotate(t, ph)

	gameID := t.GameID
	if gameID == "" {
		gameID = p.detector.GameID()
	}
	p.Counters.TradeEvents.Inc()
	return []events.SanitizedEvent{{
		Channel:   events.ChannelTrades,
		EventType: events.TypeNewTrade,
		Data:      t,
		Timestamp: ts,
		GameID:    gameID,
		Phase:     ph,
	}}
}

// practiceTokens pulls the free-play token list; the feed has shipped both
// key spellings.
func practiceTokens(data map[string]any) any {
	if v, ok := data["availableShitcoins"]; ok {
		return v
	}
	return data["available_shitcoins"]
}

// eventTime parses the upstream timestamp when present, falls back to the
// wall clock, and clamps so output timestamps never run backwards within a
// session.
func (p *Pipeline) eventTime(raw any) time.Time {
	ts := time.Now().UTC()
	if s := events.AsString(raw); s != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = parsed.UTC()
		}
	}
	if ts.Before(p.lastTS) {
		ts = p.lastTS
	}
	p.lastTS = ts
	return ts
}

func (p *Pipeline) logTransition(tr *phase.Transition) {
	switch {
	case tr.IsNewGame:
		telemetry.Infof("pipeline: new game %s (prev %s, phase %s -> %s)",
			tr.NewGameID, tr.PrevGameID, tr.PrevPhase, tr.NewPhase)
	case tr.NewPhase == events.PhaseRugged:
		telemetry.Infof("pipeline: game %s rugged (seed_reveal=%v)", tr.NewGameID, tr.IsSeedReveal)
	default:
		telemetry.Debugf("pipeline: phase %s -> %s game=%s", tr.PrevPhase, tr.NewPhase, tr.NewGameID)
	}
}

// Stats snapshots every pipeline counter plus the nested detector state.
func (p *Pipeline) Stats() map[string]any {
	return map[string]any{
		"events_received": p.Counters.EventsReceived.Value(),
		"game_events":     p.Counters.GameEvents.Value(),
		"stats_events":    p.Counters.StatsEvents.Value(),
		"trade_events":    p.Counters.TradeEvents.Value(),
		"history_events":  p.Counters.HistoryEvents.Value(),
		"other_events":    p.Counters.OtherEvents.Value(),
		"parse_errors":    p.Counters.ParseErrors.Value(),
		"empty_events":    p.Counters.EmptyEvents.Value(),
		"callback_errors": p.Counters.CallbackErrors.Value(),
		"process_p50_us":  p.latency.P50().Microseconds(),
		"process_p99_us":  p.latency.P99().Microseconds(),
		"phase_detector":  p.detector.Stats(),
		"god_candle":      p.god.Stats(),
		"practice_tokens": p.annotator.PracticeTokenCount(),
	}
}
