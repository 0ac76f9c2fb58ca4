// Package store persists promises, credentials, and the hash-chained
// lifecycle event log in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrNotFound is returned when a promise or credential does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed record store. Writes are serialized.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS promises (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL,
			content          TEXT NOT NULL,
			delivery_date    TEXT NOT NULL,
			creator_id       TEXT NOT NULL,
			creator_name     TEXT NOT NULL DEFAULT '',
			credential_id    TEXT NOT NULL,
			fingerprint_hash TEXT NOT NULL,
			public_key       TEXT NOT NULL,
			envelope         TEXT NOT NULL DEFAULT '',
			certificate      TEXT NOT NULL DEFAULT '',
			state            TEXT NOT NULL,
			challenge        TEXT NOT NULL DEFAULT '',
			assertion        TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_promises_creator ON promises(creator_id);

		CREATE TABLE IF NOT EXISTS credentials (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			public_key_pem TEXT NOT NULL,
			counter        INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials(user_id);

		CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY,
			ts         TEXT NOT NULL,
			promise_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state   TEXT NOT NULL,
			prev_hash  TEXT NOT NULL,
			hash       TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_events_promise ON events(promise_id);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
