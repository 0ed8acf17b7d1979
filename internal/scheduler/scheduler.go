// Package scheduler decides when each data class is due for a refresh and
// runs fetch → upsert cycles for the due ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"market-syncv1/internal/logger"
	"market-syncv1/internal/markethours"
	"market-syncv1/internal/model"
	"market-syncv1/internal/ratelimit"
	"market-syncv1/internal/retry"
	"market-syncv1/internal/upsert"
)

// Refresh outcomes reported to OnRefresh.
const (
	OutcomeOK       = "ok"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Config configures a Scheduler.
type Config struct {
	Cadences CadenceTable
	Classes  []model.DataClass
	Retry    retry.Policy

	// Per-class fetch breaker: opens after BreakerFailures consecutive
	// failed fetches and probes again after BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// RefreshTimeout bounds one class refresh, fetch retries and write
	// included. A fetch cut off by it counts as a breaker failure.
	RefreshTimeout time.Duration
}

// ErrRefreshTimeout is returned when a fetch outlives Config.RefreshTimeout.
var ErrRefreshTimeout = errors.New("refresh timed out")

// Scheduler owns the last-refresh times of every class.
type Scheduler struct {
	cfg      Config
	session  *markethours.Clock
	clock    clockwork.Clock
	fetcher  model.Fetcher
	pipeline *upsert.Pipeline
	limiters map[string]*ratelimit.Limiter
	breakers map[model.DataClass]*gobreaker.CircuitBreaker[model.Batch]
	logger   *slog.Logger

	mu   sync.Mutex
	last map[model.DataClass]time.Time

	// OnRefresh is called once per attempted class refresh (optional).
	OnRefresh func(class model.DataClass, outcome string, rows int64, d time.Duration)
	// OnBreakerChange is called on fetch breaker transitions (optional).
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// New validates cfg and builds one fetch breaker per class. limiters are
// keyed by upstream name (model.DataClass.Upstream); a class whose upstream
// has no limiter is fetched unthrottled.
func New(cfg Config, session *markethours.Clock, clock clockwork.Clock, fetcher model.Fetcher,
	pipeline *upsert.Pipeline, limiters map[string]*ratelimit.Limiter, logger *slog.Logger) (*Scheduler, error) {
	if len(cfg.Classes) == 0 {
		cfg.Classes = model.Classes
	}
	if cfg.Cadences == nil {
		cfg.Cadences = DefaultCadences()
	}
	if err := cfg.Cadences.Validate(cfg.Classes); err != nil {
		return nil, fmt.Errorf("cadence table: %w", err)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 2 * time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 2 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:      cfg,
		session:  session,
		clock:    clock,
		fetcher:  fetcher,
		pipeline: pipeline,
		limiters: limiters,
		breakers: make(map[model.DataClass]*gobreaker.CircuitBreaker[model.Batch], len(cfg.Classes)),
		logger:   logger,
		last:     make(map[model.DataClass]time.Time, len(cfg.Classes)),
	}
	for _, c := range cfg.Classes {
		s.breakers[c] = gobreaker.NewCircuitBreaker[model.Batch](gobreaker.Settings{
			Name:        "fetch:" + string(c),
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.logger.Warn("fetch breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				if s.OnBreakerChange != nil {
					s.OnBreakerChange(name, from, to)
				}
			},
		})
	}
	return s, nil
}

// ShouldRefresh reports whether class is due: at least the current
// session's cadence has elapsed since lastUpdate. A zero lastUpdate is
// always due.
func (s *Scheduler) ShouldRefresh(lastUpdate time.Time, class model.DataClass) bool {
	return s.shouldRefreshAt(s.clock.Now(), lastUpdate, class)
}

func (s *Scheduler) shouldRefreshAt(now, lastUpdate time.Time, class model.DataClass) bool {
	if lastUpdate.IsZero() {
		return true
	}
	d, ok := s.cfg.Cadences.Cadence(s.session.At(now).Session, class)
	if !ok {
		return false
	}
	return now.Sub(lastUpdate) >= d
}

// LastUpdate returns the time of the last successful refresh of class.
func (s *Scheduler) LastUpdate(class model.DataClass) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[class]
}

// Report summarises one cycle.
type Report struct {
	ID       string
	Session  markethours.Session
	Due      []model.DataClass
	Rows     map[model.DataClass]int64
	Failures map[model.DataClass]error
}

// Cycle refreshes every due class concurrently. Classes are independent:
// one failing does not stop the others. The returned error joins the
// per-class failures.
func (s *Scheduler) Cycle(ctx context.Context) (Report, error) {
	now := s.clock.Now()
	st := s.session.At(now)
	rep := Report{
		ID:       logger.GenerateTraceID("cycle"),
		Session:  st.Session,
		Rows:     make(map[model.DataClass]int64),
		Failures: make(map[model.DataClass]error),
	}
	ctx = logger.WithTraceID(ctx, rep.ID)

	for _, c := range s.cfg.Classes {
		if s.shouldRefreshAt(now, s.LastUpdate(c), c) {
			rep.Due = append(rep.Due, c)
		}
	}
	if len(rep.Due) == 0 {
		return rep, nil
	}
	s.logger.Debug("refresh cycle", append(logger.LogWithTrace(ctx), "session", string(st.Session), "due", rep.Due)...)

	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range rep.Due {
		g.Go(func() error {
			n, err := s.Refresh(ctx, c)
			mu.Lock()
			rep.Rows[c] = n
			if err != nil {
				rep.Failures[c] = err
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	errs := make([]error, 0, len(rep.Failures))
	for _, c := range rep.Due {
		if err := rep.Failures[c]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return rep, errors.Join(errs...)
}

// Refresh fetches class through its breaker, retry policy and upstream
// limiter, then upserts the batch, all within RefreshTimeout. The
// last-update time only advances when every record was written.
func (s *Scheduler) Refresh(ctx context.Context, class model.DataClass) (int64, error) {
	start := time.Now()
	cb, ok := s.breakers[class]
	if !ok {
		return 0, fmt.Errorf("unknown data class %q", class)
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	batch, err := cb.Execute(func() (model.Batch, error) {
		b, err := s.fetch(rctx, class)
		if err != nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return b, fmt.Errorf("%w after %v: %w", ErrRefreshTimeout, s.cfg.RefreshTimeout, err)
		}
		return b, err
	})
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = OutcomeRejected
		}
		s.logger.Error("fetch failed", append(logger.LogWithTrace(ctx), "class", string(class), "err", err)...)
		s.report(class, outcome, 0, start)
		return 0, fmt.Errorf("fetch: %w", err)
	}

	n, err := s.write(rctx, batch)
	if err != nil {
		s.logger.Error("upsert failed",
			append(logger.LogWithTrace(ctx), "class", string(class), "written", n, "err", err)...)
		s.report(class, OutcomePartial, n, start)
		return n, err
	}

	s.mu.Lock()
	s.last[class] = s.clock.Now()
	s.mu.Unlock()

	s.logger.Info("refreshed",
		append(logger.LogWithTrace(ctx), "class", string(class), "records", batch.Len(), "rows", n, "took", time.Since(start))...)
	s.report(class, OutcomeOK, n, start)
	return n, nil
}

// fetch runs the limited, retried fetch and gives up when ctx is done,
// even if the fetcher ignores ctx. An abandoned fetch keeps running and its
// result is dropped.
func (s *Scheduler) fetch(ctx context.Context, class model.DataClass) (model.Batch, error) {
	type result struct {
		b   model.Batch
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (model.Batch, error) {
			if l := s.limiters[class.Upstream()]; l != nil {
				if err := l.Acquire(ctx); err != nil {
					return model.Batch{}, retry.Permanent(err)
				}
			}
			return s.fetcher.Fetch(ctx, class)
		}, func(err error, next time.Duration) {
			s.logger.Warn("fetch failed, retrying",
				append(logger.LogWithTrace(ctx), "class", string(class), "retry_in", next, "err", err)...)
		})
		done <- result{b, err}
	}()

	select {
	case r := <-done:
		return r.b, r.err
	case <-ctx.Done():
		return model.Batch{}, ctx.Err()
	}
}

func (s *Scheduler) write(ctx context.Context, b model.Batch) (int64, error) {
	b, dropped := b.Dedup()
	if dropped > 0 {
		s.logger.Warn("duplicate keys in batch, keeping last", "class", b.Class, "dropped", dropped)
	}
	var total int64
	if len(b.Observations) > 0 {
		n, err := s.pipeline.Upsert(ctx, model.ObservationSpec, upsert.Rows(b.Observations))
		total += n
		if err != nil {
			return total, err
		}
	}
	if len(b.Quotes) > 0 {
		n, err := s.pipeline.Upsert(ctx, model.QuoteSpec, upsert.Rows(b.Quotes))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Scheduler) report(class model.DataClass, outcome string, rows int64, start time.Time) {
	if s.OnRefresh != nil {
		s.OnRefresh(class, outcome, rows, time.Since(start))
	}
}

// BreakerStates returns the fetch breaker state per class.
func (s *Scheduler) BreakerStates() map[model.DataClass]gobreaker.State {
	out := make(map[model.DataClass]gobreaker.State, len(s.breakers))
	for c, cb := range s.breakers {
		out[c] = cb.State()
	}
	return out
}
