package model

import (
	"time"

	"github.com/shopspring/decimal"

	"market-syncv1/internal/upsert"
)

// Observation is one point of an economic series, keyed by (SeriesID, PeriodDate).
type Observation struct {
	SeriesID   string              `json:"series_id"`
	PeriodDate time.Time           `json:"period_date"` // start of the period (UTC, date-aligned)
	MetricName string              `json:"metric_name"`
	Category   string              `json:"category"`
	Type       string              `json:"type"` // Leading, Coincident or Lagging
	Unit       string              `json:"unit"`
	Frequency  string              `json:"frequency"`
	Value      decimal.Decimal     `json:"value"`
	Forecast   decimal.NullDecimal `json:"forecast"`
	UpdatedAt  time.Time           `json:"updated_at,omitempty"` // set by storage
}

// Key returns "series@YYYY-MM-DD", matching the period stored by Row.
func (o Observation) Key() string {
	return o.SeriesID + "@" + o.PeriodDate.UTC().Format("2006-01-02")
}

// Period returns PeriodDate truncated to its UTC calendar date.
func (o Observation) Period() time.Time {
	y, m, d := o.PeriodDate.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ObservationSpec is the upsert target for observations. Every mutable
// column is replaced on conflict and updated_at is refreshed.
var ObservationSpec = upsert.Spec{
	Table: "economic_indicators_history",
	Columns: []string{
		"series_id", "period_date", "metric_name", "category", "type",
		"unit", "frequency", "value", "forecast",
	},
	ConflictKey: []string{"series_id", "period_date"},
	UpdateColumns: []string{
		"metric_name", "category", "type", "unit", "frequency", "value", "forecast",
	},
	TouchColumn: "updated_at",
}

// Row returns the bound values in ObservationSpec column order. The period
// is stored as a date, so observations sharing a Key share a row.
func (o Observation) Row() []any {
	return []any{
		o.SeriesID, o.Period(), o.MetricName, o.Category, o.Type,
		o.Unit, o.Frequency, o.Value, o.Forecast,
	}
}
