package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Default connection pool tuning, mirroring the teacher's postgres store.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the production Durable Store backend. Claim queries use
// `FOR UPDATE SKIP LOCKED` so multiple Scheduler instances make disjoint
// progress without blocking on each other (spec.md §4.1).
type PostgresStore struct {
	db *sql.DB
}

var (
	_ Store = (*PostgresStore)(nil)
)

// NewPostgresStore opens a connection pool against opts.DSN and applies
// migrations. DSN is required.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: DSN not set")
	}

	slog.Debug("PostgresStore: opening connection", "dsn_set", cfg.DSN != "")
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = DefaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = DefaultMaxIdleConns
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = DefaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	slog.Debug("PostgresStore: applying migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
