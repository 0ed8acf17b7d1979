// Package retry wraps fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <= 1 disables retry
	BaseDelay   time.Duration // delay before the second attempt, doubled after each failure
	MaxDelay    time.Duration // cap per delay; 0 = no cap
}

// DefaultPolicy is 3 attempts starting at 500ms.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, next time.Duration)

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return backoff.Permanent(err) }

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.Multiplier = 2
	expo.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		expo.MaxInterval = p.MaxDelay
	}
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, ctx is done, or
// the policy's attempts are used up. The last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify Notify) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		return op(ctx)
	}, p.backOff(ctx), backoff.Notify(notify))
}

// Wrap returns op guarded by policy p, for composing with other wrappers.
func Wrap[T any](p Policy, op func(context.Context) (T, error), notify Notify) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op, notify)
	}
}
