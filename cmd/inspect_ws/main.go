package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
)

func main() {
	match := flag.String("match", "", "substring to search for in raw payload (case-insensitive)")
	n := flag.Int("n", 10, "max results to return")
	eventType := flag.String("type", "", "filter by event type (gameStateUpdate, standard/newTrade, etc.)")
	gameID := flag.String("game", "", "filter by game id")
	pretty := flag.Bool("pretty", false, "pretty-print JSON")
	dbPath := flag.String("db", "data/rugs_ws.db", "path to raw event store")
	flag.Parse()

	if *match == "" && *eventType == "" && *gameID == "" {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/inspect_ws -match <text> [-n 10] [-type gameStateUpdate] [-game <id>] [-pretty]")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(10000)&mode=ro")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	q := `SELECT id, event_type, game_id, received, byte_size, raw FROM raw_events WHERE 1=1`
	var args []any
	if *match != "" {
		q += ` AND CAST(raw AS TEXT) LIKE ?`
		args = append(args, "%"+*match+"%")
	}
	if *eventType != "" {
		q += ` AND event_type = ?`
		args = append(args, *eventType)
	}
	if *gameID != "" {
		q += ` AND game_id = ?`
		args = append(args, *gameID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, *n)

	rows, err := db.Query(q, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var evType, game, received string
		var byteSize int
		var raw []byte
		if err := rows.Scan(&id, &evType, &game, &received, &byteSize, &raw); err != nil {
			fmt.Fprintf(os.Stderr, "scan: %v\n", err)
			continue
		}
		count++

		rawStr := string(raw)
		if *pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err == nil {
				rawStr = buf.String()
			}
		}

		fmt.Printf("--- id=%d type=%s game=%s received=%s size=%s ---\n%s\n\n",
			id, evType, game, received, humanize.IBytes(uint64(byteSize)), rawStr)
	}
	if count == 0 {
		fmt.Println("(no matching events found)")
	} else {
		fmt.Printf("(%d results)\n", count)
	}
}
