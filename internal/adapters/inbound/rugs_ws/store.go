package rugs_ws

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/charleschow/rugstream/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	maxStoreBytes   int64 = 2 << 30 // 2 GiB
	evictBatchSize        = 200
	vacuumInterval        = 50
)

// Store persists every raw upstream frame in a FIFO SQLite database capped
// at ~2 GiB. At ~4 ticks/sec the cap holds several days of feed. Oldest rows
// are evicted when the budget is exceeded.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	cachedSize   int64
	evictCounter int
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create raw store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	var avMode int
	if err := db.QueryRow(`PRAGMA auto_vacuum`).Scan(&avMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("read auto_vacuum: %w", err)
	}
	if avMode != 2 { // 2 = INCREMENTAL
		telemetry.Plainf("raw store: auto_vacuum=%d, switching to INCREMENTAL via full VACUUM", avMode)
		if _, err := db.Exec(`PRAGMA auto_vacuum = INCREMENTAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set auto_vacuum: %w", err)
		}
		if _, err := db.Exec(`VACUUM`); err != nil {
			telemetry.Warnf("raw store: VACUUM to enable auto_vacuum failed: %v", err)
		}
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT    NOT NULL,
			game_id    TEXT    NOT NULL DEFAULT '',
			received   TEXT    NOT NULL,
			byte_size  INTEGER NOT NULL,
			raw        BLOB    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_received ON raw_events(received)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_game     ON raw_events(game_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init raw schema (%s): %w", stmt, err)
		}
	}

	var size int64
	row := db.QueryRow(`SELECT COALESCE(SUM(byte_size), 0) FROM raw_events`)
	if err := row.Scan(&size); err != nil {
		db.Close()
		return nil, fmt.Errorf("read current raw store size: %w", err)
	}

	telemetry.Plainf("raw store: opened %s  rows_bytes=%s", path, humanize.IBytes(uint64(size)))

	return &Store{db: db, cachedSize: size}, nil
}

// Insert stores a raw frame asynchronously so the receive loop never waits
// on disk.
func (s *Store) Insert(eventType, gameID string, raw []byte) {
	if s == nil {
		return
	}
	rawLen := int64(len(raw))
	rawCopy := make([]byte, rawLen)
	copy(rawCopy, raw)

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		_, err := s.db.Exec(
			`INSERT INTO raw_events (event_type, game_id, received, byte_size, raw) VALUES (?, ?, ?, ?, ?)`,
			eventType,
			gameID,
			time.Now().UTC().Format(time.RFC3339Nano),
			rawLen,
			rawCopy,
		)
		if err != nil {
			telemetry.Warnf("raw store: insert failed: %v", err)
			return
		}

		s.cachedSize += rawLen
		if s.cachedSize > maxStoreBytes {
			s.evict()
		}
	}()
}

func (s *Store) evict() {
	for s.cachedSize > maxStoreBytes {
		var freed int64
		err := s.db.QueryRow(
			`WITH deleted AS (
				DELETE FROM raw_events
				WHERE id IN (SELECT id FROM raw_events ORDER BY id ASC LIMIT ?)
				RETURNING byte_size
			)
			SELECT COALESCE(SUM(byte_size), 0) FROM deleted`,
			evictBatchSize,
		).Scan(&freed)
		if err != nil {
			telemetry.Warnf("raw store: eviction query failed: %v", err)
			break
		}
		if freed == 0 {
			telemetry.Warnf("raw store: eviction freed 0 bytes, cachedSize=%d", s.cachedSize)
			break
		}
		s.cachedSize -= freed
		s.evictCounter++

		if s.evictCounter%vacuumInterval == 0 {
			if _, err := s.db.Exec(`PRAGMA incremental_vacuum`); err != nil {
				telemetry.Warnf("raw store: incremental_vacuum failed: %v", err)
			}
		}
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
