package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-syncv1/internal/model"
)

// RecentObservations returns the perSeries latest observations of every
// series, oldest first.
func (s *Store) RecentObservations(ctx context.Context, perSeries int) (map[string][]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, period_date, metric_name, category, type, unit,
		       frequency, value, forecast, updated_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY series_id ORDER BY period_date DESC
			) AS rn
			FROM economic_indicators_history
		)
		WHERE rn <= ?
		ORDER BY series_id, period_date ASC
	`, perSeries)
	if err != nil {
		return nil, fmt.Errorf("sqlite query observations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Observation)
	for rows.Next() {
		var o model.Observation
		var period, updated int64
		if err := rows.Scan(&o.SeriesID, &period, &o.MetricName, &o.Category, &o.Type,
			&o.Unit, &o.Frequency, &o.Value, &o.Forecast, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan observation: %w", err)
		}
		o.PeriodDate = time.Unix(period, 0).UTC()
		o.UpdatedAt = time.Unix(updated, 0).UTC()
		out[o.SeriesID] = append(out[o.SeriesID], o)
	}
	return out, rows.Err()
}

// LastQuoteTime returns the newest stored bar time for symbol, or the zero
// time if there is none.
func (s *Store) LastQuoteTime(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM market_quotes WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}
