package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the SQLite database's parent
// directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the dev/test/single-process Durable Store backend. SQLite
// has no `SKIP LOCKED`, so claim and reassign operations are serialized
// behind mu instead: a documented limitation, not a silently papered-over
// one (SPEC_FULL.md §6).
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ Store = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database file at opts.DSN (created if absent,
// along with its parent directory) and applies migrations. DSN is required.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite store: DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}

	slog.Debug("SQLiteStore: opening database", "path", cfg.DSN)
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite tolerates at most one writer; a single shared connection avoids
	// SQLITE_BUSY errors under concurrent goroutines hitting this process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	slog.Debug("SQLiteStore: applying migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
