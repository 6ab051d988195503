package crawler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Completion is the outcome of one dispatched task.
type Completion[T, R any] struct {
	Item   T
	Result R
	Err    error
}

// Dispatch runs fn over items with at most workers tasks in flight and
// streams their completions in the order they finish. The channel is closed
// after every started task has finished, so callers must drain it. Once ctx
// is done no new task is started; tasks that never ran produce no
// completion.
func Dispatch[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) <-chan Completion[T, R] {
	out := make(chan Completion[T, R])

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(max(workers, 1))
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			item := item
			// Go blocks until a worker slot is free.
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res, err := fn(ctx, item)
				out <- Completion[T, R]{Item: item, Result: res, Err: err}
				return nil
			})
		}
		g.Wait()
	}()

	return out
}
