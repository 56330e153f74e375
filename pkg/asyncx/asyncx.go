// Package asyncx holds the small set of concurrency helpers the service
// relies on: deadline-bounded calls and a settled worker pool for batch
// work where one failure must not stop the rest.
package asyncx

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one unit of settled work.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// ─── Timeout ──────────────────────────────────────────────────────────────────

// WithTimeout runs fn under a deadline of d. It returns ctx.Err() as soon as
// the deadline passes even if fn ignores its context; fn keeps running in the
// background and its result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan Result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()

	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ─── Settled pool ─────────────────────────────────────────────────────────────

// PoolSettled processes items with at most workers goroutines and returns
// one Result per item in input order. It never short-circuits; items not yet
// started when ctx is cancelled report ctx.Err().
func PoolSettled[T any, R any](
	ctx context.Context,
	workers int,
	items []T,
	fn func(context.Context, T) (R, error),
) []Result[R] {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan int, len(items))
	for i := range items {
		work <- i
	}
	close(work)

	results := make([]Result[R], len(items))

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range work {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				v, err := fn(ctx, items[i])
				results[i] = Result[R]{Value: v, Err: err}
			}
		}()
	}
	wg.Wait()
	return results
}
