package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 20 * time.Second

	// closeUnknownChannel is sent when the path names a channel we don't
	// serve. 4xxx is the private close-code range.
	closeUnknownChannel = 4004

	upgradeRate  = rate.Limit(2)
	upgradeBurst = 5
	maxLimiters  = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Server exposes the broadcaster over WebSocket (`/ws/{channel}`) plus the
// health, metrics, and stats endpoints.
type Server struct {
	b       *Broadcaster
	statsFn func() map[string]any
	srv     *http.Server
	started time.Time

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the routes. statsFn supplies the /stats payload; nil is
// allowed and serves the broadcaster's own counters.
func NewServer(addr string, b *Broadcaster, statsFn func() map[string]any) *Server {
	s := &Server{
		b:        b,
		statsFn:  statsFn,
		started:  time.Now(),
		limiters: make(map[string]*rate.Limiter),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{channel}", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.PromHandler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	telemetry.Plainf("fanout: listening on %s  channels=%v", s.srv.Addr, events.Channels())
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// allow rate-limits upgrade attempts per remote IP so a reconnect storm
// cannot starve the accept loop.
func (s *Server) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	s.limMu.Lock()
	defer s.limMu.Unlock()
	if len(s.limiters) > maxLimiters {
		// crude pressure valve; per-IP history restarts
		s.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(upgradeRate, upgradeBurst)
		s.limiters[host] = lim
	}
	return lim.Allow()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r.RemoteAddr) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	name := mux.Vars(r)["channel"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	ch := events.Channel(name)
	if !events.ValidChannel(ch) {
		deadline := time.Now().Add(writeDeadline)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnknownChannel, "unknown channel: "+name), deadline)
		conn.Close()
		return
	}

	sub := NewSubscriber(clientSendBuf)
	s.b.Subscribe(sub, ch)
	telemetry.Infof("fanout: client %s subscribed to %s", shortID(sub), ch)

	go s.writePump(conn, sub, ch)
	go s.readPump(conn, sub, ch)
}

// writePump drains the subscriber's send channel onto the socket. It owns
// teardown: on exit it unsubscribes (so fan-out stops targeting the
// subscriber) and closes the connection.
func (s *Server) writePump(conn *websocket.Conn, sub *Subscriber, ch events.Channel) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.b.Unsubscribe(sub, ch)
		conn.Close()
		telemetry.Infof("fanout: client %s left %s (missed %d)", shortID(sub), ch, sub.Dropped())
	}()

	for {
		select {
		case msg := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write to %s on %s: %v", shortID(sub), ch, err)
				return
			}
		case <-sub.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames: pongs refresh the liveness deadline,
// application pings get echoed, anything else is ignored. On exit it closes
// the subscriber, which stops writePump (never close sub.send).
func (s *Server) readPump(conn *websocket.Conn, sub *Subscriber, ch events.Channel) {
	defer sub.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleClientFrame(sub, raw)
	}
}

// handleClientFrame answers {"action":"ping","ts":...} with a pong echoing
// ts. The reply goes through the send channel: writePump is the only socket
// writer.
func (s *Server) handleClientFrame(sub *Subscriber, raw []byte) {
	var req pingRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Action != "ping" {
		return
	}
	reply, err := json.Marshal(pongReply{Type: "pong", TS: req.TS})
	if err != nil {
		return
	}
	select {
	case sub.send <- reply:
	default:
		// buffer full: the client is too far behind for the pong to matter
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime_s":    int64(time.Since(s.started).Seconds()),
		"clients":     s.b.TotalClients(),
		"queue_depth": s.b.QueueDepth(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.statsFn != nil {
		writeJSON(w, http.StatusOK, s.statsFn())
		return
	}
	writeJSON(w, http.StatusOK, s.b.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Debugf("fanout: encode response: %v", err)
	}
}

func shortID(sub *Subscriber) string { return sub.id.String()[:8] }
