package process

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/charleschow/rugstream/internal/adapters/inbound/rugs_ws"
	"github.com/charleschow/rugstream/internal/config"
	"github.com/charleschow/rugstream/internal/core/history"
	"github.com/charleschow/rugstream/internal/core/pipeline"
	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/fanout"
	"github.com/charleschow/rugstream/internal/telemetry"
)

// Run boots the full service: upstream connector → sanitization pipeline →
// channel broadcaster, plus the stores and the ops endpoints. It blocks
// until SIGINT/SIGTERM.
func Run(cfg *config.Config) {
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting rugstream  upstream=%s  listen=%s", cfg.UpstreamURL, cfg.Addr())

	pipe := pipeline.New()
	b := fanout.NewBroadcaster(cfg.Broadcaster.MaxQueueSize)

	// ── Stores ──────────────────────────────────────────────────
	var rawStore *rugs_ws.Store
	if cfg.RawStorePath != "" {
		s, err := rugs_ws.OpenStore(cfg.RawStorePath)
		if err != nil {
			telemetry.Warnf("raw store disabled: %v", err)
		} else {
			rawStore = s
		}
	}

	var histStore *history.Store
	if cfg.HistoryStorePath != "" {
		s, err := history.OpenStore(cfg.HistoryStorePath)
		if err != nil {
			telemetry.Warnf("history store disabled: %v", err)
		} else {
			histStore = s
		}
	}

	// ── History collector ───────────────────────────────────────
	collector := history.NewCollector(cfg.HistoryCollectionInterval, histStore)

	// ── Wiring ──────────────────────────────────────────────────
	pipe.RegisterCallback(events.ChannelAll, b.Broadcast)
	pipe.RegisterCallback(events.ChannelGame, collector.Watch)
	if histStore != nil {
		pipe.RegisterCallback(events.ChannelHistory, func(evt events.SanitizedEvent) error {
			rec, ok := evt.Data.(*events.GameHistoryRecord)
			if !ok {
				return nil
			}
			_, err := histStore.InsertRecord(rec)
			return err
		})
	}

	// ── Upstream connector ──────────────────────────────────────
	client := rugs_ws.NewClient(rugs_ws.Config{
		URL:                   cfg.UpstreamURL,
		PingInterval:          time.Duration(cfg.Upstream.PingInterval) * time.Second,
		InitialReconnectDelay: time.Duration(cfg.Upstream.InitialReconnectDelay) * time.Second,
		MaxReconnectDelay:     time.Duration(cfg.Upstream.MaxReconnectDelay) * time.Second,
	}, func(m map[string]any) { pipe.Process(m) }, rawStore)

	// ── Channel server ──────────────────────────────────────────
	statsFn := func() map[string]any {
		stats := map[string]any{
			"pipeline":    pipe.Stats(),
			"broadcaster": b.Stats(),
			"upstream":    client.Stats(),
			"history":     collector.Stats(),
		}
		if histStore != nil {
			stats["history_store"] = map[string]any{"records": histStore.RecordCount()}
		}
		return stats
	}
	srv := fanout.NewServer(cfg.Addr(), b, statsFn)

	// ── Prometheus mirrors ──────────────────────────────────────
	telemetry.RegisterCounter("rugstream_events_received_total",
		"Raw upstream events entering the pipeline.", pipe.Counters.EventsReceived.Value)
	telemetry.RegisterCounter("rugstream_parse_errors_total",
		"Upstream events dropped as unparseable.", pipe.Counters.ParseErrors.Value)
	telemetry.RegisterCounter("rugstream_broadcast_events_total",
		"Events accepted onto the broadcast queue.", b.TotalEvents)
	telemetry.RegisterCounter("rugstream_broadcast_dropped_total",
		"Events dropped because the broadcast queue was full.", b.TotalDropped)
	telemetry.RegisterCounter("rugstream_upstream_connections_total",
		"Successful upstream connects.", client.Connections)
	telemetry.RegisterGauge("rugstream_subscribers",
		"Distinct connected subscribers.", func() int64 { return int64(b.TotalClients()) })
	telemetry.RegisterGauge("rugstream_queue_depth",
		"Broadcast queue occupancy.", func() int64 { return int64(b.QueueDepth()) })

	// ── Start ───────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			telemetry.Errorf("channel server: %v", err)
			os.Exit(1)
		}
	}()
	go client.Run(ctx)
	go statsLoop(ctx, time.Duration(cfg.StatsInterval)*time.Second, pipe, b, client)

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if rawStore != nil {
		rawStore.Close()
	}
	if histStore != nil {
		histStore.Close()
	}

	telemetry.Infof("Shutdown complete  received=%d  game=%d  trades=%d  dropped=%d  parse_errors=%d",
		pipe.Counters.EventsReceived.Value(),
		pipe.Counters.GameEvents.Value(),
		pipe.Counters.TradeEvents.Value(),
		b.TotalDropped(),
		pipe.Counters.ParseErrors.Value(),
	)
}

// statsLoop logs a one-line aggregate snapshot every interval.
func statsLoop(ctx context.Context, every time.Duration, pipe *pipeline.Pipeline, b *fanout.Broadcaster, client *rugs_ws.Client) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			telemetry.Plainf("stats: received=%s  game=%d stats=%d trades=%d history=%d other=%d  parse_errors=%d  queue=%d/%d dropped=%d  clients=%d  upstream=%s  phase=%s",
				humanize.Comma(pipe.Counters.EventsReceived.Value()),
				pipe.Counters.GameEvents.Value(),
				pipe.Counters.StatsEvents.Value(),
				pipe.Counters.TradeEvents.Value(),
				pipe.Counters.HistoryEvents.Value(),
				pipe.Counters.OtherEvents.Value(),
				pipe.Counters.ParseErrors.Value(),
				b.QueueDepth(), b.QueueCapacity(), b.TotalDropped(),
				b.TotalClients(),
				client.State(),
				pipe.Phase(),
			)
		}
	}
}
