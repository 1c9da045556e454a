package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlidb/internal/metrics"
)

// Options configures a Store.
type Options struct {
	// Logger receives statement traces (at debug level, when Debug is set)
	// and rollback failures. Defaults to slog.Default().
	Logger *slog.Logger

	// Debug logs every statement with its arguments.
	Debug bool

	// Metrics counts executed statements. May be nil.
	Metrics *metrics.Metrics
}

// Store is one SQLite database file (or shared in-memory database).
// Uses a single connection so every transaction is serialized.
type Store struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	debug   bool
	metrics *metrics.Metrics
}

// Open creates or opens a SQLite database at the given path (a file path
// or a "file:" URI).
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		db:      db,
		path:    path,
		logger:  logger,
		debug:   opts.Debug,
		metrics: opts.Metrics,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the path or URI the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Begin starts a transaction. With readOnly set the transaction is the
// optimized read variant; writes inside it fail at the SQL level.
// Blocks while another transaction holds the connection.
func (s *Store) Begin(ctx context.Context, readOnly bool) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return nil, Translate(fmt.Errorf("begin: %w", err))
	}
	return &Tx{tx: tx, ctx: ctx, store: s}, nil
}

// Exec runs a statement outside any transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	s.trace(query, args)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Translate(fmt.Errorf("exec %q: %w", query, err))
	}
	return nil
}

// Query runs a query outside any transaction and materializes the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	s.trace(query, args)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Translate(fmt.Errorf("query %q: %w", query, err))
	}
	return collect(rows)
}

func (s *Store) trace(query string, args []any) {
	s.metrics.Statement(query)
	if s.debug {
		s.logger.Debug("sql", "db", s.path, "stmt", query, "args", args)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
