package model

import (
	"context"
	"time"

	"market-syncv1/internal/upsert"
)

// ── Storage Port Interfaces ──
// These decouple the sync and warm loops from the concrete backends
// (SQLite, PostgreSQL, Redis, in-memory).

// ObservationReader is the query side of the storage interface.
type ObservationReader interface {
	// RecentObservations returns up to perSeries most recent observations of
	// every series, keyed by series ID and ordered oldest first.
	RecentObservations(ctx context.Context, perSeries int) (map[string][]Observation, error)
}

// Store is a transactional storage backend.
type Store interface {
	upsert.Writer
	ObservationReader
	Ping(ctx context.Context) error
	Close() error
}

// Cache holds published payloads. Set is an atomic replace; readers never
// see a partial body.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (body []byte, ok bool, err error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Fetcher pulls the current records of a data class from its upstream.
// Errors are treated as retryable unless wrapped with retry.Permanent.
type Fetcher interface {
	Fetch(ctx context.Context, class DataClass) (Batch, error)
}
