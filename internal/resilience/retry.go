package resilience

import (
	"context"
	"math"
	"time"
)

// RetryPolicy describes exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// Delay returns the backoff before retrying after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retry runs fn up to 1+MaxRetries times, sleeping with exponential backoff
// between attempts. retryable decides which errors are worth another attempt;
// a nil retryable retries everything. The last error is propagated once
// retries are exhausted or a non-retryable error occurs.
//
// When breaker is non-nil it is consulted before the first attempt and
// informed of every outcome, so repeated failures short-circuit future calls.
func Retry[T any](ctx context.Context, policy RetryPolicy, breaker *Breaker, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if breaker != nil && !breaker.CanExecute() {
		return zero, OpenError(breaker)
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return result, nil
		}

		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt == policy.MaxRetries {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
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
