// Package identity is the SQLite-backed identity store: devices, groups,
// group membership, online status, and the bridge's peer/share tables.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a SQLite connection configured for a single-writer embedded
// workload (WAL journaling, NORMAL synchronous, an enlarged page cache) and
// caches prepared statements by their query string.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt
}

// Config controls how the store opens its underlying SQLite file.
type Config struct {
	Path           string
	BusyTimeoutMS  int
	CacheSizePages int // magnitude only; applied as a negative cache_size (KB-based)
	Logger         *slog.Logger
}

// Open opens (and migrates) the identity store at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.CacheSizePages == 0 {
		cfg.CacheSizePages = 2000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 + WAL: single writer connection avoids SQLITE_BUSY under load

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizePages),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &Store{
		db:    db,
		log:   logger,
		stmts: make(map[string]*sql.Stmt),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.log.Info("identity store opened", "path", cfg.Path)
	return s, nil
}

// prepared returns a cached *sql.Stmt for query, preparing and caching it on
// first use. Safe for concurrent use.
func (s *Store) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// resetStatementCache closes and clears every cached prepared statement.
// Called by Close.
func (s *Store) resetStatementCache() {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	for q, stmt := range s.stmts {
		stmt.Close()
		delete(s.stmts, q)
	}
}

// Close releases all cached statements and the underlying connection.
func (s *Store) Close() error {
	s.resetStatementCache()
	return s.db.Close()
}

// now is the single indirection point for timestamps persisted by this
// package, so tests can substitute a fixed clock if ever needed.
var now = time.Now
