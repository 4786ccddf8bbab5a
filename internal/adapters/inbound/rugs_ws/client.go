package rugs_ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/rugstream/internal/telemetry"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultMinBackoff   = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	pingTimeout         = 10 * time.Second
	closeTimeout        = 5 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// Config holds the connector's tunables. Zero values take the documented
// defaults.
type Config struct {
	URL                   string
	PingInterval          time.Duration
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
}

func (c *Config) withDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = defaultMinBackoff
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxBackoff
	}
}

// Client maintains exactly one logical connection to the upstream feed,
// reconnecting with doubling backoff. Every inbound frame is decoded as a
// JSON object and handed to onMessage on the receive goroutine.
type Client struct {
	cfg       Config
	onMessage func(map[string]any)
	store     *Store

	state atomic.Value // one of the State* constants

	connections    telemetry.Counter
	disconnections telemetry.Counter
	messages       telemetry.Counter
	parseErrors    telemetry.Counter
	callbackErrors telemetry.Counter
}

func NewClient(cfg Config, onMessage func(map[string]any), store *Store) *Client {
	cfg.withDefaults()
	c := &Client{cfg: cfg, onMessage: onMessage, store: store}
	c.state.Store(StateDisconnected)
	return c
}

// State returns the current connection state.
func (c *Client) State() string { return c.state.Load().(string) }

func (c *Client) setState(s string) { c.state.Store(s) }

// Run dials and serves until ctx is cancelled, reconnecting on every
// failure. The backoff delay doubles per failed attempt up to the cap and
// resets once a connection is established.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.disconnections.Inc()
		if connected {
			attempt = 0
		}
		attempt++
		c.setState(StateReconnecting)

		delay := c.backoff(attempt)
		telemetry.Warnf("rugs_ws: connection lost (attempt %d): %v — retrying in %s", attempt, err, delay)

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// backoff computes the reconnect delay for the given attempt (1-based):
// initial * 2^(attempt-1), capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.cfg.InitialReconnectDelay) * math.Pow(2, float64(min(attempt-1, 10))))
	if d > c.cfg.MaxReconnectDelay {
		d = c.cfg.MaxReconnectDelay
	}
	return d
}

// connect dials once and serves the read loop until the connection drops or
// ctx is cancelled. The first return reports whether a connection was ever
// established, so the caller knows to reset its backoff.
func (c *Client) connect(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.setState(StateConnected)
	c.connections.Inc()
	telemetry.Infof("rugs_ws: connected to %s", c.cfg.URL)

	// done unblocks the watcher and the pinger when the read loop exits.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(closeTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"), deadline)
			conn.Close()
		case <-done:
		}
	}()
	go c.keepalive(conn, done)

	readTimeout := c.cfg.PingInterval + pingTimeout
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.messages.Inc()
		c.handle(raw)
	}
}

// keepalive sends protocol pings so the peer and any intermediaries keep the
// connection alive; a missed pong surfaces as a read deadline in the read
// loop.
func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout)); err != nil {
				return
			}
		}
	}
}

// handle decodes one frame and invokes the callback inline. A panicking
// callback is counted and absorbed so the read loop keeps serving.
func (c *Client) handle(raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.parseErrors.Inc()
		telemetry.Warnf("rugs_ws: unmarshal frame: %v", err)
		return
	}

	if c.store != nil {
		evtType, _ := msg["event_type"].(string)
		gameID, _ := msg["game_id"].(string)
		c.store.Insert(evtType, gameID, raw)
	}

	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.callbackErrors.Inc()
			telemetry.Errorf("rugs_ws: on_message panic: %v", r)
		}
	}()
	c.onMessage(msg)
}

func (c *Client) Connections() int64    { return c.connections.Value() }
func (c *Client) Messages() int64       { return c.messages.Value() }
func (c *Client) ParseErrors() int64    { return c.parseErrors.Value() }
func (c *Client) CallbackErrors() int64 { return c.callbackErrors.Value() }

// Stats snapshots the connector counters for the /stats endpoint.
func (c *Client) Stats() map[string]any {
	return map[string]any{
		"state":             c.State(),
		"connections":       c.connections.Value(),
		"disconnections":    c.disconnections.Value(),
		"messages_received": c.messages.Value(),
		"parse_errors":      c.parseErrors.Value(),
		"callback_errors":   c.callbackErrors.Value(),
	}
}
