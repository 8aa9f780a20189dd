package services

import (
	"context"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

// BackoffFunc returns how long to wait after the given failed attempt (1-based)
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff waits delay, 2*delay, 3*delay, ...
func LinearBackoff(delay time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return delay * time.Duration(attempt)
	}
}

// RetryPolicy retries an operation with backoff. Waits go through Clock so
// tests can run without real delays.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Clock       driven.Clock
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. It returns the number of attempts made and the
// last error. A done context stops the wait between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !domain.IsRetryable(err) || attempt == maxAttempts {
			return attempt, err
		}
		if p.Backoff != nil {
			if serr := clock.Sleep(ctx, p.Backoff(attempt)); serr != nil {
				return attempt, serr
			}
		}
	}
	return maxAttempts, err
}

var _ driven.Clock = SystemClock{}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
