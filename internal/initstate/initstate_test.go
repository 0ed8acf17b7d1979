package initstate

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestEnsureInitialized_RunsOnce(t *testing.T) {
	var s State
	calls := 0
	fn := func(context.Context) error { calls++; return nil }

	for i := 0; i < 3; i++ {
		if err := s.EnsureInitialized(context.Background(), fn); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
	if !s.Initialized() {
		t.Error("expected initialized")
	}
}

func TestEnsureInitialized_RetriesAfterFailure(t *testing.T) {
	var s State
	errSchema := errors.New("schema")
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls == 1 {
			return errSchema
		}
		return nil
	}

	if err := s.EnsureInitialized(context.Background(), fn); !errors.Is(err, errSchema) {
		t.Fatalf("expected errSchema, got %v", err)
	}
	if s.Initialized() {
		t.Fatal("failed init must not be recorded as done")
	}
	if err := s.EnsureInitialized(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
	if s.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", s.Attempts())
	}
}

func TestEnsureInitialized_Concurrent(t *testing.T) {
	var s State
	var mu sync.Mutex
	calls := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EnsureInitialized(context.Background(), func(context.Context) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
}

func TestReset(t *testing.T) {
	var s State
	s.EnsureInitialized(context.Background(), func(context.Context) error { return nil })
	s.Reset()
	if s.Initialized() {
		t.Fatal("expected uninitialized after Reset")
	}
	calls := 0
	s.EnsureInitialized(context.Background(), func(context.Context) error { calls++; return nil })
	if calls != 1 {
		t.Errorf("fn should run again after Reset, ran %d", calls)
	}
}
