// Package dispatch runs blocking external-service calls off the
// request-handling path through a bounded worker pool.
package dispatch

import (
	"context"
	"errors"

	"github.com/pitchforge/engine/internal/resilience"
)

// Pool caps how many tasks run concurrently. Sizing it keeps a burst of
// submissions from overwhelming the external judge with parallel requests.
type Pool struct {
	slots chan struct{}
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the pool's concurrency bound.
func (p *Pool) Size() int { return cap(p.slots) }

// Submit acquires a worker slot, runs fn, and waits for its result or for
// ctx. A caller whose ctx fires while fn is still running gets the ctx error
// immediately; the task itself is abandoned rather than cancelled, and its
// slot is reclaimed once the underlying call returns on its own.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	inner := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-p.slots }()
		result, err := fn(inner)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, resilience.ErrTimeout
		}
		return zero, ctx.Err()
	}
}
