// Package indicator derives the published metric snapshots from stored
// observation history.
//
// Each series contributes one MetricSnapshot computed from its most recent
// Window observations (oldest first):
//
//	changePct    = (cur / prior − 1) × 100
//	yoyChange    = (cur / v[n−13] − 1) × 100          needs 13 points
//	annualized3m = (cur − v[n−3]) / v[n−3] × 4 × 100  needs 3 points
//	zScore       = (cur − mean) / σ over the window, population σ, 0 if σ = 0
//
// Series with fewer than two observations are skipped.
package indicator

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"market-syncv1/internal/model"
)

// Window is the number of observations read per series: the current
// reading plus twelve prior periods.
const Window = 13

// Compute builds snapshots for every series with enough history, ordered
// by metric name (then series ID).
func Compute(series map[string][]model.Observation) []model.MetricSnapshot {
	out := make([]model.MetricSnapshot, 0, len(series))
	for _, obs := range series {
		if s, ok := Snapshot(obs); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricName != out[j].MetricName {
			return out[i].MetricName < out[j].MetricName
		}
		return out[i].SeriesID < out[j].SeriesID
	})
	return out
}

// Snapshot computes the metrics of one series. obs must be ordered oldest
// first; only the last Window points are used.
func Snapshot(obs []model.Observation) (model.MetricSnapshot, bool) {
	if len(obs) < 2 {
		return model.MetricSnapshot{}, false
	}
	if len(obs) > Window {
		obs = obs[len(obs)-Window:]
	}
	n := len(obs)
	last := obs[n-1]
	cur := last.Value
	prior := obs[n-2].Value

	s := model.MetricSnapshot{
		SeriesID:   last.SeriesID,
		MetricName: last.MetricName,
		Category:   last.Category,
		Type:       last.Type,
		Unit:       last.Unit,
		Frequency:  last.Frequency,
		PeriodDate: last.PeriodDate.UTC().Format("2006-01-02"),
		Current:    cur,
		Prior:      prior,
		VsPrior:    cur.Sub(prior).Round(2),
		ChangePct:  pctChange(cur, prior),
		Forecast:   last.Forecast,
	}
	if n >= Window {
		s.YoYChange = pctChange(cur, obs[n-Window].Value)
	}
	if n >= 3 {
		if base := obs[n-3].Value; !base.IsZero() {
			v := round2(cur.Sub(base).Div(base).InexactFloat64() * 4 * 100)
			s.Annualized3M = &v
		}
	}
	if last.Forecast.Valid {
		s.VsForecast = decimal.NewNullDecimal(cur.Sub(last.Forecast.Decimal).Round(2))
	}

	values := make([]float64, n)
	for i, o := range obs {
		values[i] = o.Value.InexactFloat64()
	}
	s.ZScore = round2(zScore(values))
	return s, true
}

// pctChange returns (cur/base − 1) × 100, or nil when base is zero.
func pctChange(cur, base decimal.Decimal) *float64 {
	if base.IsZero() {
		return nil
	}
	v := round2((cur.Div(base).InexactFloat64() - 1) * 100)
	return &v
}

// zScore of the last value against the whole slice.
func zScore(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	if std == 0 {
		return 0
	}
	return (values[len(values)-1] - mean) / std
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
