// Package circuitbreaker guards a fallible operation with a
// CLOSED → OPEN → HALF_OPEN state machine.
//
// In CLOSED, calls run and failures are counted; the count resets on success
// or once the last failure is older than the monitor window. Reaching the
// threshold opens the breaker, and calls fail fast with ErrCircuitOpen. After
// the reset timeout one probe call is let through (HALF_OPEN): success closes
// the breaker, failure reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation, requests pass through
	StateOpen     State = 1 // Circuit tripped, requests rejected immediately
	StateHalfOpen State = 2 // One probe request allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without running it.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when the wrapped operation outlives Config.CallTimeout.
	ErrTimeout = errors.New("circuit breaker: operation timed out")
)

// Config configures a CircuitBreaker.
type Config struct {
	Name             string
	FailureThreshold int           // failures before opening (e.g. 3)
	ResetTimeout     time.Duration // wait before the half-open probe (e.g. 60s)
	MonitorWindow    time.Duration // failures older than this are forgotten; 0 = never
	CallTimeout      time.Duration // 0 = no timeout
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State         State
	FailureCount  int
	LastFailureAt time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg   Config
	clock clockwork.Clock

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	// OnStateChange is called on state transitions with mu held (optional).
	OnStateChange func(name string, from, to State)
}

// New creates a breaker in the CLOSED state. A nil clock uses real time.
func New(cfg Config, clock clockwork.Clock) (*CircuitBreaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("circuit breaker %s: failure threshold must be positive", cfg.Name)
	}
	if cfg.ResetTimeout <= 0 {
		return nil, fmt.Errorf("circuit breaker %s: reset timeout must be positive", cfg.Name)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{cfg: cfg, clock: clock, state: StateClosed}, nil
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn while the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn through cb and returns its result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.before(); err != nil {
		return zero, err
	}

	v, err := call(ctx, cb, fn)
	cb.after(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn, giving up after CallTimeout. A timed-out call is not
// cancelled; it keeps running in the background and its result is dropped.
func call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if cb.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-cb.clock.After(cb.cfg.CallTimeout):
		return zero, fmt.Errorf("%s after %v: %w", cb.cfg.Name, cb.cfg.CallTimeout, ErrTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		// Only one probe at a time.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	case StateClosed:
		if cb.cfg.MonitorWindow > 0 && cb.failures > 0 &&
			cb.clock.Since(cb.lastFailure) > cb.cfg.MonitorWindow {
			cb.failures = 0
		}
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.clock.Now()
		if wasProbe || cb.failures >= cb.cfg.FailureThreshold {
			if cb.state != StateOpen {
				cb.transition(StateOpen)
			}
		}
		return
	}

	if wasProbe {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current state, failure count and last failure time.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{State: cb.state, FailureCount: cb.failures, LastFailureAt: cb.lastFailure}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(cb.cfg.Name, from, to)
	}
}
