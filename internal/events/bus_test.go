package events

import (
	"errors"
	"testing"
)

func TestBusPrimaryThenAll(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(ChannelGame, func(e SanitizedEvent) error {
		order = append(order, "game")
		return nil
	})
	bus.Subscribe(ChannelAll, func(e SanitizedEvent) error {
		order = append(order, "all")
		return nil
	})
	bus.Subscribe(ChannelTrades, func(e SanitizedEvent) error {
		order = append(order, "trades")
		return nil
	})

	errs := bus.Publish(SanitizedEvent{Channel: ChannelGame})
	if len(errs) != 0 {
		t.Fatalf("unexpected handler errors: %v", errs)
	}
	if len(order) != 2 || order[0] != "game" || order[1] != "all" {
		t.Fatalf("dispatch order = %v, want [game all]", order)
	}

	// trades handler untouched by a game publish
	order = nil
	bus.Publish(SanitizedEvent{Channel: ChannelStats})
	if len(order) != 1 || order[0] != "all" {
		t.Fatalf("stats publish reached %v, want [all] only", order)
	}
}

func TestBusCollectsHandlerErrors(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(ChannelGame, func(SanitizedEvent) error {
		calls++
		return errors.New("boom")
	})
	bus.Subscribe(ChannelGame, func(SanitizedEvent) error {
		calls++
		return nil
	})

	errs := bus.Publish(SanitizedEvent{Channel: ChannelGame})
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if calls != 2 {
		t.Fatalf("a failing handler stopped dispatch: %d calls, want 2", calls)
	}
}
