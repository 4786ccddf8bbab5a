// Ping the upstream feed and the local fan-out server to measure latency.
//
// Measures WebSocket ping/pong round-trips against the upstream game feed,
// plus HTTP and application-level ping latency against a locally running
// service.
//
// Usage:
//
//	go run ./ping_services                          # upstream only, 20 pings
//	go run ./ping_services -n 50                    # 50 pings per endpoint
//	go run ./ping_services -local localhost:9017    # also test the local service
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/rugstream/internal/config"
)

const (
	httpTimeout = 10 * time.Second
	ipifyV4     = "https://api4.ipify.org"
	ipifyV6     = "https://api6.ipify.org"
)

func main() {
	n := flag.Int("n", 20, "Number of pings per endpoint")
	upstream := flag.String("upstream", "", "Upstream WS URL (defaults to UPSTREAM_URL from config)")
	local := flag.String("local", "", "Local service host:port to ping (empty = skip)")
	flag.Parse()

	wsURL := *upstream
	if wsURL == "" {
		if cfg, err := config.Load(); err == nil {
			wsURL = cfg.UpstreamURL
		}
	}
	if wsURL == "" && *local == "" {
		fmt.Fprintln(os.Stderr, "nothing to ping: set UPSTREAM_URL or pass -upstream / -local")
		os.Exit(1)
	}

	// Show public IPs
	ipv4 := fetchURL(ipifyV4)
	if ipv4 == "" {
		ipv4 = "unavailable"
	}
	ipv6 := fetchURL(ipifyV6)
	if ipv6 == "" {
		ipv6 = "unavailable (no IPv6 connectivity)"
	}
	fmt.Printf("\nPinging services — IPv4: %s  |  IPv6: %s\n", ipv4, ipv6)

	if wsURL != "" {
		pingUpstream(wsURL, *n)
	}
	if *local != "" {
		pingLocal(*local, *n)
	}
	fmt.Println()
}

func pingUpstream(wsURL string, n int) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	fmt.Printf("  UPSTREAM FEED — %s\n", wsURL)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	fmt.Printf("\n  WebSocket ping/pong latency (%d pings):\n", n)
	latencies := measureWSLatency(wsURL, n)
	if len(latencies) > 0 {
		pad := len(fmt.Sprintf("%d", n))
		for i, ms := range latencies {
			fmt.Printf("  [%*d/%d]  %7.1f ms  (WS ping/pong)\n", pad, i+1, n, ms)
		}
		printStats(latencies, "Upstream WebSocket")
	}
}

func pingLocal(addr string, n int) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	fmt.Printf("  LOCAL SERVICE — %s\n", addr)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	healthURL := "http://" + addr + "/healthz"

	fmt.Println("\n  Cold-start request (TCP + HTTP):")
	if ms, code, err := measureHTTP(healthURL, nil); err != nil {
		fmt.Printf("    FAILED — %v\n", err)
	} else {
		fmt.Printf("    %.1f ms  (HTTP %d)\n", ms, code)
	}

	fmt.Printf("\n  Warm HTTP latency (%d requests, keep-alive):\n", n)
	client := &http.Client{Timeout: httpTimeout}
	if _, _, err := measureHTTP(healthURL, client); err != nil {
		fmt.Printf("  [!] Warm-up request failed: %v\n", err)
	} else {
		latencies := make([]float64, 0, n)
		pad := len(fmt.Sprintf("%d", n))
		for i := 1; i <= n; i++ {
			ms, code, err := measureHTTP(healthURL, client)
			if err != nil {
				fmt.Printf("  [%*d/%d]  FAILED — %v\n", pad, i, n, err)
				continue
			}
			latencies = append(latencies, ms)
			fmt.Printf("  [%*d/%d]  %7.1f ms  (HTTP %d)\n", pad, i, n, ms, code)
		}
		printStats(latencies, "Local HTTP")
	}

	fmt.Printf("\n  Application ping latency over /ws/all (%d pings):\n", n)
	appLatencies := measureAppPing("ws://"+addr+"/ws/all", n)
	if len(appLatencies) > 0 {
		pad := len(fmt.Sprintf("%d", n))
		for i, ms := range appLatencies {
			fmt.Printf("  [%*d/%d]  %7.1f ms  (app ping/pong)\n", pad, i+1, n, ms)
		}
		printStats(appLatencies, "Local app ping")
	}
}

func measureHTTP(url string, client *http.Client) (ms float64, statusCode int, err error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	c := client
	if c == nil {
		c = &http.Client{Timeout: httpTimeout}
	}
	start := time.Now()
	resp, err := c.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return float64(elapsed.Microseconds()) / 1000, resp.StatusCode, nil
}

// measureWSLatency measures protocol-level ping/pong round-trips.
func measureWSLatency(wsURL string, n int) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Printf("  [!] WebSocket dial failed: %v\n", err)
		return nil
	}
	defer conn.Close()

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	// Run read loop so pong frames get processed (control frames are handled during read)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latencies := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
			fmt.Printf("  [!] WS ping failed: %v\n", err)
			break
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		select {
		case <-pongCh:
			elapsed := time.Since(start)
			latencies = append(latencies, float64(elapsed.Microseconds())/1000)
		case <-time.After(5 * time.Second):
			fmt.Printf("  [!] WS pong timeout\n")
			return latencies
		}
	}
	return latencies
}

// measureAppPing measures JSON ping/pong round-trips through the fan-out
// server. Event frames arriving between pongs are skipped.
func measureAppPing(wsURL string, n int) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Printf("  [!] WebSocket dial failed: %v\n", err)
		return nil
	}
	defer conn.Close()

	latencies := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		ping := fmt.Sprintf(`{"action":"ping","ts":%d}`, time.Now().UnixMilli())
		start := time.Now()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ping)); err != nil {
			fmt.Printf("  [!] app ping failed: %v\n", err)
			break
		}

		deadline := time.Now().Add(5 * time.Second)
		conn.SetReadDeadline(deadline)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("  [!] app pong timeout: %v\n", err)
				return latencies
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &frame) == nil && frame.Type == "pong" {
				elapsed := time.Since(start)
				latencies = append(latencies, float64(elapsed.Microseconds())/1000)
				break
			}
			if time.Now().After(deadline) {
				fmt.Printf("  [!] app pong timeout\n")
				return latencies
			}
		}
	}
	return latencies
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)
	stdev := math.Sqrt(variance)

	median := sorted[len(sorted)/2]
	p95Idx := int(float64(len(sorted)) * 0.95)
	if p95Idx >= len(sorted) {
		p95Idx = len(sorted) - 1
	}
	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}

	fmt.Printf("\n  --- %s Stats (%d requests) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  Median: %7.1f ms\n", median)
	fmt.Printf("  Stdev:  %7.1f ms\n", stdev)
	fmt.Printf("  p95:    %7.1f ms\n", sorted[p95Idx])
	fmt.Printf("  p99:    %7.1f ms\n", sorted[p99Idx])
}

func fetchURL(u string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var b [64]byte
	n, _ := resp.Body.Read(b[:])
	return strings.TrimSpace(string(b[:n]))
}
