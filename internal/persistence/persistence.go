// Package persistence provides C7: durable storage for negotiated swaps so
// a restarted process can rehydrate its watchers instead of losing track of
// HTLCs it has already funded, adapted from internal/storage's embedded-SQL
// schema and connection setup to a single swaps table.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the C7 persistence layer: one SQLite database per node, storing
// every accepted swap's negotiated request/accept/role so it survives a
// restart. Live HTLC status is never persisted here: it is re-derived from
// the chains themselves by C1 watchers on rehydration, so there is nothing
// to reconcile against a stale on-disk copy.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds persistence configuration.
type Config struct {
	DataDir string
}

// New opens (creating if absent) the swap database under cfg.DataDir.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("persistence: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swapd.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS swaps (
		swap_id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		counterparty_peer_id TEXT NOT NULL,
		start_of_swap INTEGER NOT NULL,

		-- Canonical JSON encodings of rfc003.SwapRequest and rfc003.SwapAccept,
		-- written once at Accept time and never rewritten: HTLC progress is
		-- re-derived from the chains on rehydration, not read back out of here.
		request_json TEXT NOT NULL,
		accept_json TEXT NOT NULL,

		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_created ON swaps(created_at);

	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		last_connected INTEGER NOT NULL DEFAULT 0,
		connection_count INTEGER NOT NULL DEFAULT 0,
		is_bootstrap INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);
	`

	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
