package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/rugstream/internal/events"
)

func newTestServer(t *testing.T) (*Server, *Broadcaster, string) {
	t.Helper()
	b := NewBroadcaster(64)
	s := NewServer("127.0.0.1:0", b, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, b, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialChannel(t *testing.T, wsURL, channel string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/"+channel, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", channel, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeAndReceive(t *testing.T) {
	_, b, wsURL := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	conn := dialChannel(t, wsURL, "game")
	pollUntil(t, 2*time.Second, func() bool { return b.ClientCount(events.ChannelGame) == 1 },
		"subscription registered")

	b.Broadcast(seqEvent(events.ChannelGame, 42))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := UnmarshalEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Channel != events.ChannelGame || env.EventType != events.TypeGameStateUpdate {
		t.Errorf("envelope = %s/%s, want game/gameStateUpdate", env.Channel, env.EventType)
	}
	if got := seqOf(t, raw); got != 42 {
		t.Errorf("seq = %d, want 42", got)
	}

	conn.Close()
	pollUntil(t, 2*time.Second, func() bool { return b.ClientCount(events.ChannelGame) == 0 },
		"disconnect cleanup")
}

func TestUnknownChannelClosedWith4004(t *testing.T) {
	_, _, wsURL := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/blorp", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, closeUnknownChannel) {
		t.Fatalf("read err = %v, want close code %d", err, closeUnknownChannel)
	}
}

func TestPingPongEchoesTimestamp(t *testing.T) {
	_, b, wsURL := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	conn := dialChannel(t, wsURL, "trades")
	pollUntil(t, 2*time.Second, func() bool { return b.ClientCount(events.ChannelTrades) == 1 },
		"subscription registered")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping","ts":1723456789123}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var pong struct {
		Type string          `json:"type"`
		TS   json.RawMessage `json:"ts"`
	}
	if err := json.Unmarshal(raw, &pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Errorf("type = %q, want pong", pong.Type)
	}
	if string(pong.TS) != "1723456789123" {
		t.Errorf("ts = %s, want 1723456789123 echoed back", pong.TS)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestStatsUsesInjectedSnapshot(t *testing.T) {
	b := NewBroadcaster(8)
	s := NewServer("127.0.0.1:0", b, func() map[string]any {
		return map[string]any{"pipeline": map[string]any{"events_received": 7}}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["pipeline"]; !ok {
		t.Errorf("stats body missing pipeline section: %v", body)
	}
}

func TestMetricsEndpointServesProm(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics body missing runtime collectors")
	}
}

func TestUpgradeRateLimitPerIP(t *testing.T) {
	s, _, _ := newTestServer(t)

	for i := 0; i < upgradeBurst; i++ {
		if !s.allow("203.0.113.7:1234") {
			t.Fatalf("attempt %d unexpectedly limited", i+1)
		}
	}
	if s.allow("203.0.113.7:1234") {
		t.Error("burst exceeded but still allowed")
	}
	// a different IP has its own budget
	if !s.allow("203.0.113.8:1234") {
		t.Error("unrelated IP was limited")
	}
}
