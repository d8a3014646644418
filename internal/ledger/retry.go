package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults to
	// contention timeouts only, which are known not to have committed.
	Retryable func(error) bool
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 50 * time.Millisecond,
	MaxDelay:  time.Second,
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. Delays grow exponentially with full jitter.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return errors.Is(err, ErrContentionTimeout) }
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !retryable(err) || attempt == attempts-1 {
			return result, err
		}
		if serr := sleepWithContext(ctx, fullJitter(exponential(p.BaseDelay, attempt, p.MaxDelay))); serr != nil {
			return result, err
		}
	}
	return result, err
}

func exponential(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << attempt
	if ceiling > 0 && (d > ceiling || d <= 0) {
		return ceiling
	}
	return d
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
