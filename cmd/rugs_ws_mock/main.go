// rugs_ws_mock simulates the upstream crash-game feed locally. It serves a
// WebSocket endpoint that emits raw_event envelopes through full game
// lifecycles (presale → active → rug → cooldown) with interleaved trades,
// seed reveals, game history, and the occasional god candle.
//
// Usage:
//
//	go run ./cmd/rugs_ws_mock
//
// Then point the service at it:
//
//	UPSTREAM_URL=ws://localhost:9300/ws go run ./cmd
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/rugstream/internal/adapters/inbound/rugs_ws"
)

const (
	listenAddr   = ":9300"
	frameEvery   = 250 * time.Millisecond // ~4 ticks/sec like the real feed
	cooldownMs   = 15000
	presaleAtMs  = 5000
	ruggedFrames = 4 // ~1s of rugged ticks before the next game
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type sim struct {
	mu sync.Mutex

	gameNo     int
	gameID     string
	phase      string // presale | active | rugged | cooldown
	price      float64
	peak       float64
	tick       int
	trades     int
	cooldown   int
	ruggedLeft int

	seedHash string
	seed     string

	prices  []float64
	history []map[string]any
	records map[string]any

	rugCount int
	players  int
}

var world = newSim()

func newSim() *sim {
	s := &sim{players: 150 + rand.Intn(80)}
	s.nextGame()
	s.phase = "active" // first game starts live so clients see data immediately
	s.cooldown = 0
	return s
}

func (s *sim) nextGame() {
	s.gameNo++
	s.gameID = fmt.Sprintf("mock-%d-%08x", s.gameNo, rand.Uint32())
	s.phase = "cooldown"
	s.price = 1.0
	s.peak = 1.0
	s.tick = 0
	s.trades = 0
	s.cooldown = cooldownMs
	s.seedHash = fmt.Sprintf("%016x%016x", rand.Uint64(), rand.Uint64())
	s.seed = fmt.Sprintf("%016x%016x", rand.Uint64(), rand.Uint64())
	s.prices = s.prices[:0]
}

// advance moves the lifecycle forward one frame.
func (s *sim) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case "cooldown":
		s.cooldown -= int(frameEvery / time.Millisecond)
		if s.cooldown <= presaleAtMs {
			s.phase = "presale"
		}
	case "presale":
		s.cooldown -= int(frameEvery / time.Millisecond)
		if s.cooldown <= 0 {
			s.cooldown = 0
			s.phase = "active"
		}
	case "active":
		s.tick++
		s.price *= 1 + rand.NormFloat64()*0.03
		if s.price < 0.01 {
			s.price = 0.01
		}
		if s.price > s.peak {
			s.peak = s.price
		}
		s.prices = append(s.prices, s.price)
		if rand.Float64() < 0.4 {
			s.trades++
		}
		// rug odds grow with age; nothing survives past ~100s
		if rand.Float64() < 0.008+float64(s.tick)*0.00004 || s.tick > 400 {
			s.rug()
		}
	case "rugged":
		s.ruggedLeft--
		if s.ruggedLeft <= 0 {
			s.nextGame()
		}
	}
}

func (s *sim) rug() {
	s.phase = "rugged"
	s.ruggedLeft = ruggedFrames
	s.rugCount++
	s.price = 0.0

	entry := map[string]any{
		"id":             s.gameID,
		"prices":         append([]float64(nil), s.prices...),
		"peakMultiplier": s.peak,
		"provablyFair":   map[string]any{"serverSeedHash": s.seedHash, "serverSeed": s.seed, "version": "v3"},
		"globalTrades":   nil,
	}
	s.history = append(s.history, entry)
	if len(s.history) > 10 {
		s.history = s.history[1:]
	}

	if s.peak >= 2.0 {
		s.records = map[string]any{
			"godCandle2x":          s.peak,
			"godCandle2xGameId":    s.gameID,
			"godCandle2xTimestamp": time.Now().UTC().Format(time.RFC3339),
		}
	}
}

// tickFrame builds one gameStateUpdate envelope from current state.
func (s *sim) tickFrame() rugs_ws.RawEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf := map[string]any{"serverSeedHash": s.seedHash, "version": "v3"}
	if s.phase == "rugged" {
		pf["serverSeed"] = s.seed
	}

	data := map[string]any{
		"gameId":            s.gameID,
		"active":            s.phase == "active",
		"rugged":            s.phase == "rugged",
		"price":             round5(s.price),
		"tickCount":         s.tick,
		"tradeCount":        s.trades,
		"cooldownTimer":     s.cooldown,
		"cooldownPaused":    false,
		"allowPreRoundBuys": s.phase == "presale",
		"provablyFair":      pf,
		"leaderboard":       []any{},
		"connectedPlayers":  s.players + rand.Intn(9) - 4,
		"averageMultiplier": round5(1.2 + rand.Float64()*20),
		"count2x":           s.rugCount / 2,
		"count10x":          s.rugCount / 10,
		"count50x":          s.rugCount / 50,
		"count100x":         s.rugCount / 100,
	}
	if s.phase == "rugged" && len(s.history) > 0 {
		data["gameHistory"] = s.history
	}
	if s.records != nil {
		data["dailyRecords"] = s.records
	}
	if s.tick%40 == 1 {
		data["availableShitcoins"] = []any{"0xfree1", "0xfree2"}
	}

	return envelope("gameStateUpdate", s.gameID, data)
}

// tradeFrame builds a standard/newTrade envelope; ok is false when the game
// is not taking trades.
func (s *sim) tradeFrame() (env rugs_ws.RawEnvelope, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != "active" && s.phase != "rugged" {
		return env, false
	}
	side := "buy"
	if s.phase == "rugged" || rand.Float64() < 0.45 {
		side = "sell"
	}
	amount := round5(0.01 + rand.Float64()*0.5)
	bonus, real := 0.0, amount
	if rand.Float64() < 0.2 {
		bonus, real = amount, 0.0
	}

	data := map[string]any{
		"id":           fmt.Sprintf("t-%08x", rand.Uint32()),
		"gameId":       s.gameID,
		"playerId":     fmt.Sprintf("did:privy:mock%04d", rand.Intn(1000)),
		"username":     fmt.Sprintf("degen%03d", rand.Intn(500)),
		"level":        rand.Intn(60),
		"price":        round5(s.price),
		"type":         side,
		"tickIndex":    s.tick,
		"amount":       amount,
		"qty":          round5(amount / maxf(s.price, 0.01)),
		"coin":         "solana",
		"bonusPortion": bonus,
		"realPortion":  real,
	}
	return envelope("standard/newTrade", s.gameID, data), true
}

func envelope(eventType, gameID string, data map[string]any) rugs_ws.RawEnvelope {
	payload, _ := json.Marshal(data)
	return rugs_ws.RawEnvelope{
		Type:      "raw_event",
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		GameID:    gameID,
	}
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handleWS)

	fmt.Fprintf(os.Stderr, "rugs mock feed listening on %s\n", listenAddr)
	fmt.Fprintf(os.Stderr, "  WS: ws://localhost%s/ws\n", listenAddr)

	go func() {
		for range time.Tick(frameEvery) {
			world.advance()
		}
	}()

	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "client connected from %s\n", r.RemoteAddr)

	ticker := time.NewTicker(frameEvery)
	defer ticker.Stop()

	for range ticker.C {
		if err := writeFrame(conn, world.tickFrame()); err != nil {
			fmt.Fprintf(os.Stderr, "write error: %v\n", err)
			return
		}
		if rand.Float64() < 0.35 {
			if tr, ok := world.tradeFrame(); ok {
				if err := writeFrame(conn, tr); err != nil {
					return
				}
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame rugs_ws.RawEnvelope) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func round5(f float64) float64 {
	return float64(int(f*100000)) / 100000
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
