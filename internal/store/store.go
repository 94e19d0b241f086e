// Package store provides durable, bot-scoped persistence for posts,
// per-bot aggregate stats, and the publish attempt log, backed by SQLite.
package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Store handles all database operations. It is the only component that
// begins or commits transactions; callers see whole operations.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath and runs
// migrations. WAL mode and a busy timeout are set via the connection string
// so they apply to every pooled connection.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id                TEXT PRIMARY KEY,
		bot_id            TEXT NOT NULL,
		category          TEXT,
		content           TEXT NOT NULL,
		fingerprint       TEXT NOT NULL,
		used              INTEGER NOT NULL DEFAULT 0,
		used_at           INTEGER,
		external_ref      TEXT,
		generation_cost   REAL NOT NULL DEFAULT 0,
		generation_tokens INTEGER NOT NULL DEFAULT 0,
		generation_model  TEXT,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		UNIQUE(bot_id, fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_bot_used_created
	ON posts(bot_id, used, created_at);

	CREATE TABLE IF NOT EXISTS bot_stats (
		bot_id                TEXT PRIMARY KEY,
		total_posts           INTEGER NOT NULL DEFAULT 0,
		used_posts            INTEGER NOT NULL DEFAULT 0,
		remaining_posts       INTEGER NOT NULL DEFAULT 0,
		total_cost            REAL NOT NULL DEFAULT 0,
		total_tokens          INTEGER NOT NULL DEFAULT 0,
		last_post_at          INTEGER,
		last_replenishment_at INTEGER,
		updated_at            INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS post_logs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id           TEXT NOT NULL,
		post_id          TEXT,
		attempt_number   INTEGER NOT NULL,
		success          INTEGER NOT NULL,
		tweet_id         TEXT,
		error_message    TEXT,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_post_logs_bot_created
	ON post_logs(bot_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ULID entropy is shared and mutex-guarded so ids generated in the same
// millisecond still sort in generation order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a fresh ULID. ULIDs sort lexicographically by creation
// time, which keeps the (created_at, id) ordering deterministic even for
// rows created in the same millisecond.
func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Timestamps are stored as integer unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint
// violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
