package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsKey is the cache key of the published metrics payload.
const MetricsKey = "metrics:latest"

// Payload is the published derived view. Consumers replace Items wholesale.
type Payload struct {
	UpdatedAt string           `json:"updatedAt"` // RFC 3339, UTC
	Items     []MetricSnapshot `json:"items"`
}

// NewPayload stamps items with t.
func NewPayload(t time.Time, items []MetricSnapshot) Payload {
	if items == nil {
		items = []MetricSnapshot{}
	}
	return Payload{UpdatedAt: t.UTC().Format(time.RFC3339), Items: items}
}

// MetricSnapshot summarises the latest reading of one series against its
// recent history. Percentages are rounded to two places; pointer fields are
// nil when there is not enough history.
type MetricSnapshot struct {
	SeriesID     string              `json:"seriesId"`
	MetricName   string              `json:"metricName"`
	Category     string              `json:"category"`
	Type         string              `json:"type"`
	Unit         string              `json:"unit"`
	Frequency    string              `json:"frequency"`
	PeriodDate   string              `json:"periodDate"` // YYYY-MM-DD
	Current      decimal.Decimal     `json:"current"`
	Prior        decimal.Decimal     `json:"prior"`
	VsPrior      decimal.Decimal     `json:"vsPrior"`
	ChangePct    *float64            `json:"changePct"`
	YoYChange    *float64            `json:"yoyChange"`
	Annualized3M *float64            `json:"annualized3m"`
	ZScore       float64             `json:"zScore"`
	Forecast     decimal.NullDecimal `json:"forecast"`
	VsForecast   decimal.NullDecimal `json:"vsForecast"`
}
