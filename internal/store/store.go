// Package store is the SQLite persistence layer: one record per run and
// the durable layer of the selector cache. The database file is shared by
// parallel runs in the same process; all access goes through one *Store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the database at path, creating tables as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		req_id TEXT PRIMARY KEY,
		scenario TEXT,
		origin TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		verdict TEXT NOT NULL,
		failure TEXT,
		rca_detail TEXT,
		heal_rounds INTEGER DEFAULT 0,
		heal_events TEXT,
		executed_steps TEXT,
		artifacts TEXT,
		counters TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_verdict ON runs(verdict);
	CREATE INDEX IF NOT EXISTS idx_runs_origin ON runs(origin);
	`

	// stable and strategy are nullable: entries written before a strategy
	// was recorded stay readable.
	cacheTable := `
	CREATE TABLE IF NOT EXISTS selector_cache (
		key TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		label TEXT NOT NULL,
		context_hash TEXT,
		selector TEXT NOT NULL,
		strategy TEXT,
		stable INTEGER,
		confidence REAL DEFAULT 0,
		hits INTEGER DEFAULT 0,
		misses INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_origin_label ON selector_cache(origin, label);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON selector_cache(expires_at);
	`

	for _, stmt := range []string{runsTable, cacheTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }
