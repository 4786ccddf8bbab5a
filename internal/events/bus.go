package events

import (
	"sync"
)

// Handler consumes a sanitized event. Returning an error is counted by the
// caller but never stops dispatch.
type Handler func(SanitizedEvent) error

// Bus is the pipeline's synchronous channel → callbacks table.
// Handlers run in registration order on the publisher's goroutine; handlers
// subscribed to ChannelAll run after the primary channel's, for every event.
// For async processing, handlers should hand off to their own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Channel][]Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Channel][]Handler),
	}
}

// Subscribe registers a handler for a channel. Subscribing to ChannelAll
// receives every published event.
func (b *Bus) Subscribe(ch Channel, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[ch] = append(b.handlers[ch], h)
}

// Publish dispatches an event to its primary channel's handlers and then to
// the ChannelAll handlers. Handler errors are collected and returned; one
// bad handler must not block the others.
func (b *Bus) Publish(e SanitizedEvent) []error {
	b.mu.RLock()
	primary := b.handlers[e.Channel]
	var mirror []Handler
	if e.Channel != ChannelAll {
		mirror = b.handlers[ChannelAll]
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range primary {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range mirror {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
