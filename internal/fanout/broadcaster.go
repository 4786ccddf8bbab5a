package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/telemetry"
)

const defaultQueueSize = 1000

// Subscriber is one consumer's delivery handle: a buffered send channel the
// fan-out loop writes into and the owning write pump drains. Close is
// idempotent and signals both sides that the consumer is gone.
type Subscriber struct {
	id        uuid.UUID
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   telemetry.Counter
}

func NewSubscriber(buf int) *Subscriber {
	return &Subscriber{
		id:   uuid.New(),
		send: make(chan []byte, buf),
		done: make(chan struct{}),
	}
}

func (s *Subscriber) ID() uuid.UUID { return s.id }

// C is the receive side of the subscriber's delivery channel.
func (s *Subscriber) C() <-chan []byte { return s.send }

// Done is closed when the subscriber is finished.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Close() { s.closeOnce.Do(func() { close(s.done) }) }

// Dropped counts events this subscriber missed because its buffer was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Value() }

type queuedEvent struct {
	channel events.Channel
	data    []byte
}

// Broadcaster fans sanitized events out to channel subscribers through a
// single bounded queue. Broadcast never blocks the producer: when the queue
// is full the newest event is dropped and counted. One background goroutine
// (Run) drains the queue and delivers to each subscriber's buffered channel
// with a non-blocking send, so one stalled consumer cannot hold back the
// rest.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[events.Channel]map[*Subscriber]struct{}

	queue chan queuedEvent

	eventsSent          map[events.Channel]*telemetry.Counter
	totalEvents         telemetry.Counter
	totalDropped        telemetry.Counter
	subscriberDrops     telemetry.Counter
	clientsConnected    telemetry.Counter
	clientsDisconnected telemetry.Counter
}

func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Broadcaster{
		subs:       make(map[events.Channel]map[*Subscriber]struct{}),
		queue:      make(chan queuedEvent, queueSize),
		eventsSent: make(map[events.Channel]*telemetry.Counter),
	}
	for _, ch := range events.Channels() {
		b.subs[ch] = make(map[*Subscriber]struct{})
		b.eventsSent[ch] = &telemetry.Counter{}
	}
	return b
}

// Subscribe adds sub to a channel's delivery set.
func (b *Broadcaster) Subscribe(sub *Subscriber, ch events.Channel) {
	b.mu.Lock()
	set, ok := b.subs[ch]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[ch] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	b.clientsConnected.Inc()
}

// Unsubscribe removes sub from one channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber, ch events.Channel) {
	b.mu.Lock()
	_, present := b.subs[ch][sub]
	delete(b.subs[ch], sub)
	b.mu.Unlock()
	if present {
		b.clientsDisconnected.Inc()
	}
}

// remove deletes sub from every channel set; used when a dead subscriber is
// discovered during fan-out.
func (b *Broadcaster) remove(sub *Subscriber) {
	found := false
	b.mu.Lock()
	for _, set := range b.subs {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			found = true
		}
	}
	b.mu.Unlock()
	if found {
		b.clientsDisconnected.Inc()
	}
}

// Broadcast serializes the event and try-puts it on the bounded queue. It
// satisfies events.Handler so the pipeline can call it directly; the error
// is always nil since drops are accounted, not failures.
func (b *Broadcaster) Broadcast(e events.SanitizedEvent) error {
	data, err := MarshalEvent(e)
	if err != nil {
		telemetry.Warnf("broadcaster: marshal %s: %v", e.EventType, err)
		return nil
	}
	select {
	case b.queue <- queuedEvent{channel: e.Channel, data: data}:
		b.totalEvents.Inc()
	default:
		b.totalDropped.Inc()
	}
	return nil
}

// Run drains the queue until ctx is cancelled. Events still queued at
// shutdown are discarded.
func (b *Broadcaster) Run(ctx context.Context) {
	telemetry.Infof("broadcaster: fan-out loop started (queue capacity %d)", cap(b.queue))
	for {
		select {
		case <-ctx.Done():
			telemetry.Infof("broadcaster: fan-out loop stopped (%d events discarded)", len(b.queue))
			return
		case ev := <-b.queue:
			b.fanOut(ev)
		}
	}
}

// fanOut delivers one event to the union of its primary channel's
// subscribers and the all channel's. Deliveries are non-blocking; a full
// subscriber buffer is an edge drop, a closed subscriber is pruned.
func (b *Broadcaster) fanOut(ev queuedEvent) {
	b.mu.RLock()
	targets := make(map[*Subscriber]struct{}, len(b.subs[ev.channel])+len(b.subs[events.ChannelAll]))
	for sub := range b.subs[ev.channel] {
		targets[sub] = struct{}{}
	}
	if ev.channel != events.ChannelAll {
		for sub := range b.subs[events.ChannelAll] {
			targets[sub] = struct{}{}
		}
	}
	b.mu.RUnlock()

	b.eventsSent[ev.channel].Inc()
	if ev.channel != events.ChannelAll {
		b.eventsSent[events.ChannelAll].Inc()
	}

	var dead []*Subscriber
	for sub := range targets {
		select {
		case <-sub.done:
			dead = append(dead, sub)
			continue
		default:
		}
		select {
		case sub.send <- ev.data:
		default:
			sub.dropped.Inc()
			b.subscriberDrops.Inc()
		}
	}
	for _, sub := range dead {
		b.remove(sub)
	}
}

// ClientCount reports membership of one channel.
func (b *Broadcaster) ClientCount(ch events.Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

// TotalClients reports distinct live subscribers across all channels.
func (b *Broadcaster) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	distinct := make(map[*Subscriber]struct{})
	for _, set := range b.subs {
		for sub := range set {
			distinct[sub] = struct{}{}
		}
	}
	return len(distinct)
}

func (b *Broadcaster) QueueDepth() int    { return len(b.queue) }
func (b *Broadcaster) QueueCapacity() int { return cap(b.queue) }

func (b *Broadcaster) TotalEvents() int64  { return b.totalEvents.Value() }
func (b *Broadcaster) TotalDropped() int64 { return b.totalDropped.Value() }

// Stats snapshots the broadcaster counters. events_sent counts per-channel
// traffic (each event once per channel it is visible on), not per-subscriber
// deliveries.
func (b *Broadcaster) Stats() map[string]any {
	sent := make(map[string]int64, len(b.eventsSent))
	clients := make(map[string]int, len(b.eventsSent))
	b.mu.RLock()
	for ch, set := range b.subs {
		clients[string(ch)] = len(set)
	}
	b.mu.RUnlock()
	for ch, c := range b.eventsSent {
		sent[string(ch)] = c.Value()
	}
	return map[string]any{
		"total_events":         b.totalEvents.Value(),
		"total_dropped":        b.totalDropped.Value(),
		"subscriber_drops":     b.subscriberDrops.Value(),
		"clients_connected":    b.clientsConnected.Value(),
		"clients_disconnected": b.clientsDisconnected.Value(),
		"queue_depth":          len(b.queue),
		"queue_capacity":       cap(b.queue),
		"events_sent":          sent,
		"clients":              clients,
	}
}
