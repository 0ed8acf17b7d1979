// Package sqlite is the default storage backend: a WAL-mode SQLite file
// written one transaction per upsert chunk.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"market-syncv1/internal/initstate"
	"market-syncv1/internal/upsert"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/market.db"
}

// Store is a SQLite-backed model.Store.
type Store struct {
	db     *sql.DB
	schema initstate.State
	logger *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database with WAL mode and creates the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite opened", "path", cfg.DBPath)
	return s, nil
}

// EnsureSchema creates the tables once per Store. A failure is retried on
// the next call.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.schema.EnsureInitialized(ctx, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
		return nil
	})
}

// Decimals are stored as TEXT to keep them exact; instants as unix seconds.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS economic_indicators_history (
		series_id   TEXT    NOT NULL,
		period_date INTEGER NOT NULL,
		metric_name TEXT    NOT NULL,
		category    TEXT    NOT NULL DEFAULT '',
		type        TEXT    NOT NULL DEFAULT '',
		unit        TEXT    NOT NULL DEFAULT '',
		frequency   TEXT    NOT NULL DEFAULT '',
		value       TEXT    NOT NULL,
		forecast    TEXT,
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (series_id, period_date)
	);

	CREATE TABLE IF NOT EXISTS market_quotes (
		symbol     TEXT    NOT NULL,
		ts         INTEGER NOT NULL,
		open       TEXT    NOT NULL,
		high       TEXT    NOT NULL,
		low        TEXT    NOT NULL,
		close      TEXT    NOT NULL,
		volume     INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, ts)
	);
`

// UpsertChunk writes rows in a single transaction with one multi-row
// INSERT ... ON CONFLICT statement.
func (s *Store) UpsertChunk(ctx context.Context, spec upsert.Spec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		for _, v := range r {
			args = append(args, bindValue(v))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	res, err := tx.ExecContext(ctx, upsert.BuildStatement(spec, len(rows), upsert.Question), args...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite upsert %s: %w", spec.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit %s: %w", spec.Table, err)
	}
	return n, nil
}

// bindValue maps instants to unix seconds so the integer key columns
// compare exactly.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Unix()
	}
	return v
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
