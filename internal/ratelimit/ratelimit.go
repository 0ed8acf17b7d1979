// Package ratelimit enforces a per-minute call budget for one upstream service.
//
// Windows are aligned to wall-clock minutes: a call at :59 and a call at :01
// of the next minute land in different windows. Calls over budget block until
// the window rolls over; they are never dropped. Counters are local to one
// Limiter, there is no cross-process coordination.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Window is a snapshot of the current rate-limit window.
type Window struct {
	Start time.Time
	Calls int
	Limit int
}

// Limiter tracks calls per wall-clock minute.
type Limiter struct {
	name  string
	limit int
	clock clockwork.Clock

	mu          sync.Mutex
	windowStart time.Time
	calls       int

	// OnWait is called when a caller has to wait for the next window (optional).
	OnWait func(name string, d time.Duration)
}

// New creates a Limiter allowing limit calls per minute. A nil clock uses real time.
func New(name string, limit int, clock clockwork.Clock) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit %s: limit must be positive, got %d", name, limit)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{name: name, limit: limit, clock: clock}, nil
}

// Name returns the upstream service name.
func (l *Limiter) Name() string { return l.name }

// Acquire takes one call from the current window, blocking until the next
// minute boundary when the window is exhausted. It returns ctx.Err() if ctx
// is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.roll(now)
		if l.calls < l.limit {
			l.calls++
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(time.Minute).Sub(now)
		l.mu.Unlock()

		if l.OnWait != nil {
			l.OnWait(l.name, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// Window returns the current window state.
func (l *Limiter) Window() Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(l.clock.Now())
	return Window{Start: l.windowStart, Calls: l.calls, Limit: l.limit}
}

// roll resets the counter when now is in a later minute. Caller holds mu.
func (l *Limiter) roll(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !minute.Equal(l.windowStart) {
		l.windowStart = minute
		l.calls = 0
	}
}
