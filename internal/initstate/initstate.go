// Package initstate tracks one-time initialization (schema setup, startup
// diagnostics) as an explicit value instead of package-level flags.
package initstate

import (
	"context"
	"sync"
)

// State records whether an initialization step has completed.
// The zero value is ready to use.
type State struct {
	mu   sync.Mutex
	done bool
	runs int
}

// EnsureInitialized runs fn unless a previous call already succeeded.
// A failed fn leaves the state uninitialized so the next call retries.
// Concurrent callers wait for the in-flight attempt.
func (s *State) EnsureInitialized(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.runs++
	if err := fn(ctx); err != nil {
		return err
	}
	s.done = true
	return nil
}

// Initialized reports whether initialization has succeeded.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Attempts returns how many times fn has been invoked.
func (s *State) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Reset marks the state uninitialized again.
func (s *State) Reset() {
	s.mu.Lock()
	s.done = false
	s.runs = 0
	s.mu.Unlock()
}
