// Package store provides the bridge's durable, indexed persistence layer:
// health logs, expenses, conversation turns, embeddings, and user insights.
//
// Storage is backed by SQLite via the pure-Go modernc.org/sqlite driver —
// no cgo is required. A single file path is opened directly; passing
// ":memory:" selects an in-memory database for tests. Foreign-key
// enforcement is enabled on every connection via driver pragmas;
// file-backed databases additionally use write-ahead logging.
//
// All exported methods are safe for concurrent use from multiple goroutines.
// Writes are serialized with an internal mutex (SQLite itself only allows one
// writer at a time); reads use the database/sql connection pool and do not
// block on writers beyond SQLite's own locking.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the bridge's persistence layer. Construct with [Open]; the zero
// value is not usable.
type Store struct {
	db *sql.DB

	// mu serializes writes. SQLite permits only one writer at a time
	// regardless of connection count; taking this lock here turns
	// "database is locked" errors into ordinary blocking, matching the
	// spec's "concurrent readers do not block writers and vice versa"
	// guarantee without busy-retry loops.
	mu sync.Mutex
}

// dsn builds a modernc.org/sqlite data source name that enables foreign-key
// enforcement on every connection the pool opens, plus WAL journaling and a
// busy timeout for file-backed databases.
// In-memory databases use a shared cache so that all pooled connections see
// the same data instead of each getting an independent empty database.
func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Open opens (creating if necessary) the SQLite database at path and ensures
// the schema described in the data model is present. path may be ":memory:"
// to select a shared-cache in-memory database, typically used in tests;
// Stores opened with ":memory:" at the same time in one process share it.
//
// Schema bootstrap is idempotent: existing tables and indices are left
// untouched; missing ones are created.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	if path == ":memory:" {
		// A shared in-memory database is only visible across connections
		// while at least one stays open; pinning to a single connection
		// keeps this simple and avoids surprising "table not found" errors
		// when the pool opens a second, short-lived connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection(s).
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS health_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_logs_metric_timestamp ON health_logs(metric, timestamp);

CREATE TABLE IF NOT EXISTS expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	amount REAL NOT NULL,
	category TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expenses_category_timestamp ON expenses(category, timestamp);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model_used TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	text_content TEXT NOT NULL,
	embedding BLOB,
	metadata TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_conversation_id ON embeddings(conversation_id);

CREATE TABLE IF NOT EXISTS user_insights (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	insight TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_insights_created_at ON user_insights(created_at);
`

// migrate runs the idempotent DDL above. Safe to call repeatedly.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", ErrStorage)
	}
	return nil
}

// Transaction runs fn atomically: all writes fn performs through q
// either all commit or none do. If fn returns an error, the transaction is
// rolled back and the error is returned to the caller unchanged. Transactions
// may not be nested — fn must not call Transaction again on the same Store.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", ErrStorage)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", ErrStorage)
	}
	return nil
}

// Querier is the subset of *sql.DB / *sql.Tx used by store operations, so
// that the same query helpers run either directly against the pool or
// inside a caller-supplied transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec runs a non-transactional write, serialized against other writers.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// withTimestamp returns ts in UTC if non-zero, otherwise the current UTC
// time. Precision is not reduced.
func withTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// isForeignKeyViolation reports whether err is SQLite's foreign-key
// constraint failure, as surfaced by modernc.org/sqlite's error message.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations with a message
	// containing "FOREIGN KEY constraint failed"; there is no typed
	// sentinel exported by the driver, so a substring check is the
	// documented way to distinguish this failure mode.
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
