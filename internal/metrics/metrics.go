// Package metrics exposes Prometheus metrics and the /healthz endpoint of
// the sync daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the sync daemon.
type Metrics struct {
	// Refresh scheduler
	RefreshTotal    *prometheus.CounterVec   // labels: class, outcome
	RefreshDuration *prometheus.HistogramVec // labels: class
	LastRefresh     *prometheus.GaugeVec     // labels: class; unix seconds

	// Upsert pipeline
	RowsUpserted  *prometheus.CounterVec   // labels: table
	ChunkDuration *prometheus.HistogramVec // labels: table

	// Rate limiter
	LimiterWaits    *prometheus.CounterVec // labels: upstream
	LimiterWaitTime *prometheus.CounterVec // labels: upstream; seconds

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: breaker; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: breaker

	// Cache warmer
	WarmTotal   *prometheus.CounterVec // labels: outcome
	PayloadAge  prometheus.Gauge       // seconds since the last fresh payload
	JobDuration *prometheus.HistogramVec

	// Market session
	MarketSession *prometheus.GaugeVec // labels: session; 1 for the current one
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_refresh_total",
			Help: "Data class refreshes by outcome (ok, partial, failed, rejected)",
		}, []string{"class", "outcome"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_refresh_duration_seconds",
			Help:    "Fetch plus upsert latency per data class",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"class"}),
		LastRefresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh per data class",
		}, []string{"class"}),

		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_rows_upserted_total",
			Help: "Rows affected by upsert chunks per table",
		}, []string{"table"}),
		ChunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_upsert_chunk_duration_seconds",
			Help:    "Upsert chunk transaction latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),

		LimiterWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_ratelimit_waits_total",
			Help: "Calls that had to wait for the next rate-limit window",
		}, []string{"upstream"}),
		LimiterWaitTime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_ratelimit_wait_seconds_total",
			Help: "Total time spent waiting for rate-limit windows",
		}, []string{"upstream"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"breaker"}),

		WarmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_warm_total",
			Help: "Cache warm cycles by outcome (fresh, fallback, failed)",
		}, []string{"outcome"}),
		PayloadAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketsync_payload_age_seconds",
			Help: "Age of the payload currently served",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_job_duration_seconds",
			Help:    "Duration of scheduled job ticks",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),

		MarketSession: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_market_session",
			Help: "Current market session (1 for the active session, 0 otherwise)",
		}, []string{"session"}),
	}

	reg.MustRegister(
		m.RefreshTotal,
		m.RefreshDuration,
		m.LastRefresh,
		m.RowsUpserted,
		m.ChunkDuration,
		m.LimiterWaits,
		m.LimiterWaitTime,
		m.BreakerState,
		m.BreakerTrips,
		m.WarmTotal,
		m.PayloadAge,
		m.JobDuration,
		m.MarketSession,
	)

	return m
}

// ObserveRefresh records one class refresh. Matches scheduler.OnRefresh.
func (m *Metrics) ObserveRefresh(class, outcome string, d time.Duration) {
	m.RefreshTotal.WithLabelValues(class, outcome).Inc()
	m.RefreshDuration.WithLabelValues(class).Observe(d.Seconds())
	if outcome == "ok" {
		m.LastRefresh.WithLabelValues(class).Set(float64(time.Now().Unix()))
	}
}

// ObserveChunk records one committed upsert chunk.
func (m *Metrics) ObserveChunk(table string, rows int64, d time.Duration) {
	m.RowsUpserted.WithLabelValues(table).Add(float64(rows))
	m.ChunkDuration.WithLabelValues(table).Observe(d.Seconds())
}

// ObserveLimiterWait records a caller blocked by a rate limiter.
func (m *Metrics) ObserveLimiterWait(upstream string, d time.Duration) {
	m.LimiterWaits.WithLabelValues(upstream).Inc()
	m.LimiterWaitTime.WithLabelValues(upstream).Add(d.Seconds())
}

// SetBreakerState records a breaker transition. state is 0, 1 or 2.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
	if state == 1 {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// SetSession marks session as the current market session.
func (m *Metrics) SetSession(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.MarketSession.WithLabelValues(s).Set(v)
	}
}
