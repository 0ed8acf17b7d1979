// Package jobs runs the timer-driven loops (refresh tick, warm tick) on a
// gocron scheduler. Each loop runs in singleton mode: a tick that fires
// while the previous run is still going is skipped rather than stacked.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Func is one tick of a loop. Errors are logged; the loop keeps running.
type Func func(ctx context.Context) error

// Runner manages the scheduled loops.
type Runner struct {
	cron   *gocron.Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	// OnRun is called after every tick with its name and error (optional).
	OnRun func(name string, d time.Duration, err error)
}

// New creates a Runner. Jobs are scheduled in UTC.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{cron: cron, logger: logger, ctx: ctx, cancel: cancel}
}

// Every registers fn to run every d, starting immediately on Start.
func (r *Runner) Every(name string, d time.Duration, fn Func) error {
	if d <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := r.cron.Every(d).Tag(name).Do(func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := fn(ctx)
		if err != nil {
			r.logger.Error("job failed", "job", name, "err", err)
		}
		if r.OnRun != nil {
			r.OnRun(name, time.Since(start), err)
		}
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.logger.Info("job scheduled", "job", name, "every", d.String())
	return nil
}

// Start runs the jobs in the background until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()
	r.cron.StartAsync()
	r.logger.Info("jobs started", "count", r.cron.Len())
}

// Stop cancels in-flight ticks and stops scheduling new ones.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.cron.Stop()
	r.logger.Info("jobs stopped")
}
