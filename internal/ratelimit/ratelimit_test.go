package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLimiter_WithinBudget(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 14, 0, 10, 0, time.UTC))
	l, err := New("fred", 3, fc)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if w := l.Window(); w.Calls != 3 || w.Limit != 3 {
		t.Errorf("window = %+v, want 3/3", w)
	}
}

func TestLimiter_BlocksUntilWindowRolls(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 14, 0, 30, 0, time.UTC))
	l, _ := New("fred", 2, fc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var waited time.Duration
	l.OnWait = func(_ string, d time.Duration) { waited = d }

	l.Acquire(ctx)
	l.Acquire(ctx)

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("limiter never waited: %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("third call returned before window rolled: %v", err)
	default:
	}

	fc.Advance(30 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("third call never unblocked")
	}

	if waited != 30*time.Second {
		t.Errorf("waited %v, want 30s", waited)
	}
	w := l.Window()
	if w.Calls != 1 {
		t.Errorf("calls after roll = %d, want 1", w.Calls)
	}
	if !w.Start.Equal(time.Date(2026, 10, 15, 14, 1, 0, 0, time.UTC)) {
		t.Errorf("window start = %s", w.Start)
	}
}

func TestLimiter_MinuteAligned(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 14, 0, 59, 0, time.UTC))
	l, _ := New("fred", 1, fc)

	l.Acquire(context.Background())
	fc.Advance(2 * time.Second) // 14:01:01, two seconds later but a new window

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second call should not block across a minute boundary: %v", err)
	}
}

func TestLimiter_CancelWhileWaiting(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))
	l, _ := New("fred", 1, fc)
	l.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := fc.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if w := l.Window(); w.Calls != 1 {
		t.Errorf("cancelled call must not be counted, calls = %d", w.Calls)
	}
}

func TestNew_RejectsNonPositiveLimit(t *testing.T) {
	if _, err := New("x", 0, nil); err == nil {
		t.Error("expected error for zero limit")
	}
}
