// tail subscribes to a sanitized channel and prints every event as it
// arrives. Reconnects automatically, so it can be left running across
// service restarts.
//
// Usage:
//
//	go run ./cmd/tail -channel game
//	go run ./cmd/tail -channel all -raw
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/fanout"
)

func main() {
	addr := flag.String("addr", "localhost:9017", "service host:port")
	channel := flag.String("channel", "all", "channel to tail (game, stats, trades, history, all)")
	raw := flag.Bool("raw", false, "print full JSON envelopes instead of one-line summaries")
	flag.Parse()

	ch := events.Channel(*channel)
	if !events.ValidChannel(ch) {
		fmt.Fprintf(os.Stderr, "unknown channel %q (use game, stats, trades, history, all)\n", *channel)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := fanout.NewClient(*addr, ch, func(env *fanout.Envelope) {
		if *raw {
			if data, err := json.Marshal(env); err == nil {
				fmt.Println(string(data))
			}
			return
		}
		fmt.Printf("%s  %-7s %-22s game=%s phase=%s %s\n",
			env.Timestamp.Format("15:04:05.000"), env.Channel, env.EventType,
			orDash(env.GameID), orDash(string(env.Phase)), summarize(env.Data))
	})
	client.ConnectWithRetry(ctx)
}

// summarize pulls a few headline fields out of the payload so a line of
// output tells you something without -raw.
func summarize(data json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	parts := ""
	if v, ok := m["price"].(float64); ok {
		parts += fmt.Sprintf("price=%.4f ", v)
	}
	if v, ok := m["tick_count"].(float64); ok {
		parts += fmt.Sprintf("tick=%d ", int(v))
	}
	if v, ok := m["type"].(string); ok {
		parts += fmt.Sprintf("side=%s ", v)
	}
	if v, ok := m["amount"].(float64); ok {
		parts += fmt.Sprintf("amount=%.4f ", v)
	}
	if v, ok := m["peak_multiplier"].(float64); ok {
		parts += fmt.Sprintf("peak=%.4f ", v)
	}
	if v, ok := m["connected_players"].(float64); ok {
		parts += fmt.Sprintf("players=%d ", int(v))
	}
	return parts
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
