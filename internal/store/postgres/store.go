// Package postgres is the PostgreSQL storage backend. It honours the same
// chunk upsert contract as the SQLite store.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"market-syncv1/internal/initstate"
	"market-syncv1/internal/model"
	"market-syncv1/internal/upsert"
)

// Config configures the connection pool.
type Config struct {
	DSN      string
	MinConns int
	MaxConns int
}

// Store is a pgxpool-backed model.Store.
type Store struct {
	pool   *pgxpool.Pool
	schema initstate.State
	logger *slog.Logger
}

// Open connects, pings and creates the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres connected", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return s, nil
}

// EnsureSchema creates the tables once per Store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.schema.EnsureInitialized(ctx, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		return nil
	})
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS economic_indicators_history (
		series_id   TEXT        NOT NULL,
		period_date DATE        NOT NULL,
		metric_name TEXT        NOT NULL,
		category    TEXT        NOT NULL DEFAULT '',
		type        TEXT        NOT NULL DEFAULT '',
		unit        TEXT        NOT NULL DEFAULT '',
		frequency   TEXT        NOT NULL DEFAULT '',
		value       NUMERIC     NOT NULL,
		forecast    NUMERIC,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (series_id, period_date)
	);

	CREATE TABLE IF NOT EXISTS market_quotes (
		symbol     TEXT        NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		open       NUMERIC     NOT NULL,
		high       NUMERIC     NOT NULL,
		low        NUMERIC     NOT NULL,
		close      NUMERIC     NOT NULL,
		volume     BIGINT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol, ts)
	);
`

// UpsertChunk writes rows in one transaction.
func (s *Store) UpsertChunk(ctx context.Context, spec upsert.Spec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		args = append(args, r...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, upsert.BuildStatement(spec, len(rows), upsert.Dollar), args...)
	if err != nil {
		return 0, fmt.Errorf("postgres upsert %s: %w", spec.Table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres commit %s: %w", spec.Table, err)
	}
	return tag.RowsAffected(), nil
}

// RecentObservations returns the perSeries latest observations of every
// series, oldest first.
func (s *Store) RecentObservations(ctx context.Context, perSeries int) (map[string][]model.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT series_id, period_date, metric_name, category, type, unit,
		       frequency, value::text, forecast::text, updated_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY series_id ORDER BY period_date DESC
			) AS rn
			FROM economic_indicators_history
		) recent
		WHERE rn <= $1
		ORDER BY series_id, period_date ASC
	`, perSeries)
	if err != nil {
		return nil, fmt.Errorf("postgres query observations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Observation)
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.SeriesID, &o.PeriodDate, &o.MetricName, &o.Category, &o.Type,
			&o.Unit, &o.Frequency, &o.Value, &o.Forecast, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan observation: %w", err)
		}
		o.PeriodDate = o.PeriodDate.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()
		out[o.SeriesID] = append(out[o.SeriesID], o)
	}
	return out, rows.Err()
}

// Ping verifies the pool is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
