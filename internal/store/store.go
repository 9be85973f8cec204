// Package store persists the current TLE dataset in SQLite.
//
// The dataset is a single ordered table of satellite records plus one metadata
// row describing the refresh cycle that produced it. Both are replaced together
// in one transaction, so readers observe either the previous dataset or the new
// one, never an empty table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const memoryDSN = ":memory:"

// Store is the Telemetry Store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

type config struct {
	busyTimeout int
	mkdirAll    bool
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets the per-connection busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of a file database before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// Open opens (or creates) the database at dsn and applies the schema. dsn is a
// file path, a "file:" URI, or ":memory:".
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := config{busyTimeout: 10_000}
	for _, o := range opts {
		o(&cfg)
	}

	if dsn == "" {
		return nil, fmt.Errorf("store: empty database DSN")
	}

	if cfg.mkdirAll && dsn != memoryDSN {
		if dir := filepath.Dir(dbPath(dsn)); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", withPragmas(dsn, cfg))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if dsn == memoryDSN {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for tests and closes it on cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(context.Background(), memoryDSN)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withPragmas appends connection pragmas to dsn so that every pooled
// connection gets them, not only the first one.
func withPragmas(dsn string, cfg config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	q.Add("_pragma", "synchronous(NORMAL)")
	if dsn != memoryDSN {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

// dbPath strips the "file:" scheme and any query from dsn.
func dbPath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}
