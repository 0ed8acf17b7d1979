// Package warmer keeps the derived metrics payload published in the cache.
//
// Every Warm recomputes the payload through a circuit breaker. A fresh
// payload replaces the cached one and becomes the last-good copy. When the
// recompute fails, or the breaker is open, the last-good copy is
// re-published instead so readers only ever see bounded staleness. Only a
// failure before any payload was produced is returned to the caller.
package warmer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"market-syncv1/internal/circuitbreaker"
	"market-syncv1/internal/indicator"
	"market-syncv1/internal/model"
)

// ErrNoFallback is returned when recompute fails and no payload has ever
// been published.
var ErrNoFallback = errors.New("no last-good payload")

// Warm outcomes reported to OnWarm.
const (
	OutcomeFresh    = "fresh"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

// RecomputeFunc produces a new payload.
type RecomputeFunc func(ctx context.Context) (model.Payload, error)

// FromStore recomputes metric snapshots from the latest observations.
func FromStore(r model.ObservationReader, clock clockwork.Clock) RecomputeFunc {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(ctx context.Context) (model.Payload, error) {
		series, err := r.RecentObservations(ctx, indicator.Window)
		if err != nil {
			return model.Payload{}, fmt.Errorf("load observations: %w", err)
		}
		return model.NewPayload(clock.Now(), indicator.Compute(series)), nil
	}
}

// Config configures a Warmer.
type Config struct {
	Key     string        // cache key, default model.MetricsKey
	TTL     time.Duration // cache TTL; 0 = no expiry
	Breaker circuitbreaker.Config
}

// Warmer owns the breaker and the last-good payload. Warm must not be
// called concurrently with itself; Get may be called from any goroutine.
type Warmer struct {
	cache     model.Cache
	recompute RecomputeFunc
	cfg       Config
	cb        *circuitbreaker.CircuitBreaker
	clock     clockwork.Clock
	logger    *slog.Logger

	mu         sync.RWMutex
	lastGood   []byte
	lastGoodAt time.Time

	// OnWarm is called after every Warm with its outcome (optional).
	OnWarm func(outcome string)
}

// New creates a Warmer with its own circuit breaker.
func New(cache model.Cache, recompute RecomputeFunc, cfg Config, clock clockwork.Clock, logger *slog.Logger) (*Warmer, error) {
	if cfg.Key == "" {
		cfg.Key = model.MetricsKey
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "warmer:" + cfg.Key
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb, err := circuitbreaker.New(cfg.Breaker, clock)
	if err != nil {
		return nil, err
	}
	return &Warmer{
		cache:     cache,
		recompute: recompute,
		cfg:       cfg,
		cb:        cb,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Breaker exposes the warmer's circuit breaker for metrics and health.
func (w *Warmer) Breaker() *circuitbreaker.CircuitBreaker { return w.cb }

// Key returns the cache key the payload is published under.
func (w *Warmer) Key() string { return w.cfg.Key }

// Warm runs one recompute cycle. It returns nil whenever a payload (fresh
// or last-good) is available to readers afterwards.
func (w *Warmer) Warm(ctx context.Context) error {
	p, err := circuitbreaker.Do(ctx, w.cb, func(ctx context.Context) (model.Payload, error) {
		return w.recompute(ctx)
	})
	if err == nil {
		body, merr := json.Marshal(p)
		if merr != nil {
			// A payload that cannot be encoded is a recompute bug; keep the old one.
			err = fmt.Errorf("encode payload: %w", merr)
		} else {
			w.mu.Lock()
			w.lastGood = body
			w.lastGoodAt = w.clock.Now()
			w.mu.Unlock()
			w.publish(ctx, body)
			w.logger.Info("payload warmed", "key", w.cfg.Key, "items", len(p.Items), "updated_at", p.UpdatedAt)
			w.report(OutcomeFresh)
			return nil
		}
	}

	body, at, ok := w.last()
	if !ok {
		w.logger.Error("warm failed with no fallback", "key", w.cfg.Key, "err", err)
		w.report(OutcomeFailed)
		return fmt.Errorf("warm %s: %w: %w", w.cfg.Key, ErrNoFallback, err)
	}

	w.logger.Warn("warm failed, serving last good payload",
		"key", w.cfg.Key, "age", w.clock.Since(at).Round(time.Second),
		"breaker", w.cb.CurrentState().String(), "err", err)
	w.publish(ctx, body)
	w.report(OutcomeFallback)
	return nil
}

// Get returns the published payload, falling back to the in-process
// last-good copy when the cache misses or errors.
func (w *Warmer) Get(ctx context.Context) (model.Payload, error) {
	body, ok, err := w.cache.Get(ctx, w.cfg.Key)
	if err != nil {
		w.logger.Warn("cache get failed", "key", w.cfg.Key, "err", err)
	}
	if !ok || err != nil {
		var have bool
		body, _, have = w.last()
		if !have {
			return model.Payload{}, fmt.Errorf("get %s: %w", w.cfg.Key, ErrNoFallback)
		}
	}

	var p model.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Payload{}, fmt.Errorf("decode %s: %w", w.cfg.Key, err)
	}
	return p, nil
}

// LastGoodAt returns when the last-good payload was produced, or the zero
// time if none has been.
func (w *Warmer) LastGoodAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastGoodAt
}

func (w *Warmer) last() ([]byte, time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastGood, w.lastGoodAt, w.lastGood != nil
}

// publish failures are logged only; Get still serves the last-good copy.
func (w *Warmer) publish(ctx context.Context, body []byte) {
	if err := w.cache.Set(ctx, w.cfg.Key, body, w.cfg.TTL); err != nil {
		w.logger.Warn("cache publish failed", "key", w.cfg.Key, "err", err)
	}
}

func (w *Warmer) report(outcome string) {
	if w.OnWarm != nil {
		w.OnWarm(outcome)
	}
}
