package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charleschow/rugstream/internal/events"
	"github.com/charleschow/rugstream/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	maxStoreBytes  int64 = 1 << 30 // 1 GiB
	evictPct             = 0.10
	vacuumInterval       = 20
	sizeCheckEvery       = 100
)

// StoredRecord is one persisted completed-game row.
type StoredRecord struct {
	ID             int64
	CreatedAt      time.Time
	GameID         string
	PeakMultiplier float64
	TickCount      int
	Payload        []byte
}

// Store persists completed-game records and collection marks in a FIFO
// SQLite database. Oldest 10% of rows are evicted when the byte budget is
// exceeded.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	cachedSize   int64
	rowCount     int64
	evictCounter int
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA auto_vacuum = INCREMENTAL`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at      TEXT    NOT NULL,
			game_id         TEXT    NOT NULL,
			peak_multiplier REAL,
			tick_count      INTEGER,
			payload         BLOB    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gh_game_id    ON game_history(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gh_created_at ON game_history(created_at)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			game_id    TEXT NOT NULL,
			reason     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_col_game_id ON collections(game_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init history schema (%s): %w", stmt, err)
		}
	}

	var size int64
	row := db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err != nil {
		db.Close()
		return nil, fmt.Errorf("read db size: %w", err)
	}

	var count int64
	row = db.QueryRow(`SELECT COUNT(*) FROM game_history`)
	if err := row.Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("read row count: %w", err)
	}

	telemetry.Plainf("history store: opened %s  db_bytes=%d  rows=%d", path, size, count)

	return &Store{db: db, cachedSize: size, rowCount: count}, nil
}

// InsertRecord persists one completed-game record; the full record is kept
// as JSON alongside the queryable columns.
func (s *Store) InsertRecord(rec *events.GameHistoryRecord) (int64, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal history record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO game_history (created_at, game_id, peak_multiplier, tick_count, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		rec.GameID,
		rec.PeakMultiplier,
		len(rec.Prices),
		payload,
	)
	if err != nil {
		return 0, fmt.Errorf("history insert: %w", err)
	}

	id, _ := res.LastInsertId()
	s.rowCount++

	if s.rowCount%sizeCheckEvery == 0 {
		s.refreshSize()
		if s.cachedSize > maxStoreBytes {
			s.evict()
		}
	}
	return id, nil
}

// MarkCollection records that a game was selected for collection and why.
func (s *Store) MarkCollection(gameID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO collections (created_at, game_id, reason) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		gameID,
		reason,
	)
	if err != nil {
		return fmt.Errorf("mark collection: %w", err)
	}
	return nil
}

// Recent returns up to n newest records, newest first.
func (s *Store) Recent(n int) ([]StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, created_at, game_id, peak_multiplier, tick_count, payload
		 FROM game_history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var created string
		if err := rows.Scan(&r.ID, &created, &r.GameID, &r.PeakMultiplier, &r.TickCount, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecordCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowCount
}

func (s *Store) CollectionCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM collections`).Scan(&n)
	return n, err
}

func (s *Store) refreshSize() {
	var size int64
	row := s.db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err == nil {
		s.cachedSize = size
	}
}

func (s *Store) evict() {
	toDelete := int64(float64(s.rowCount) * evictPct)
	if toDelete < 1 {
		toDelete = 1
	}

	res, err := s.db.Exec(
		`DELETE FROM game_history WHERE id IN (
			SELECT id FROM game_history ORDER BY id ASC LIMIT ?
		)`, toDelete,
	)
	if err != nil {
		telemetry.Warnf("history store: evict: %v", err)
		return
	}

	deleted, _ := res.RowsAffected()
	s.rowCount -= deleted
	s.evictCounter++

	telemetry.Infof("history store: evicted %d rows (target %d)", deleted, toDelete)

	if s.evictCounter%vacuumInterval == 0 {
		s.db.Exec(`PRAGMA incremental_vacuum`)
	}

	s.refreshSize()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
