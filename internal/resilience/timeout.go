package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks an operation that exceeded its hard deadline. Callers can
// distinguish it from a judge-returned low score or any other failure.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout races fn against the deadline. On expiry the operation is
// abandoned from the caller's perspective: no cancellation is propagated, the
// goroutine simply finishes on its own schedule and its result is dropped.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	inner := context.WithoutCancel(ctx)
	go func() {
		result, err := fn(inner)
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrTimeout
	}
}
