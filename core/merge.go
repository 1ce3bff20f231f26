package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MergeStrategy combines several upstream pipes of the same element type
// into one downstream pipe.
type MergeStrategy[T any] func(ctx context.Context, pipes []Pipe[T]) Pipe[T]

// Concatenate drains each upstream to completion, in order, before moving to
// the next. Order across upstreams is total; order within one upstream is
// preserved.
func Concatenate[T any](label string) MergeStrategy[T] {
	return func(ctx context.Context, pipes []Pipe[T]) Pipe[T] {
		return NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(T) error) error {
			for _, p := range pipes {
				for {
					item, ok, err := p.Next(ctx)
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					if err := emit(item); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
}

// InterleaveUnbounded drains all upstreams concurrently and emits items in
// arrival order, with no bound on how far one upstream may run ahead of the
// others.
func InterleaveUnbounded[T any](label string) MergeStrategy[T] {
	return interleave[T](label, 0)
}

// InterleaveBounded is InterleaveUnbounded with a capacity bounding the
// internal fan-in buffer: once capacity items are waiting to be emitted, the
// fastest upstream's goroutine blocks until the consumer catches up.
func InterleaveBounded[T any](label string, capacity int) MergeStrategy[T] {
	return interleave[T](label, capacity)
}

func interleave[T any](label string, capacity int) MergeStrategy[T] {
	return func(ctx context.Context, pipes []Pipe[T]) Pipe[T] {
		return NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(T) error) error {
			g, gctx := errgroup.WithContext(ctx)
			var out chan T
			if capacity > 0 {
				out = make(chan T, capacity)
			} else {
				out = make(chan T)
			}
			for _, p := range pipes {
				p := p
				g.Go(func() error {
					for {
						item, ok, err := p.Next(gctx)
						if err != nil {
							return err
						}
						if !ok {
							return nil
						}
						select {
						case <-gctx.Done():
							return gctx.Err()
						case out <- item:
						}
					}
				})
			}
			go func() {
				_ = g.Wait()
				close(out)
			}()
			for item := range out {
				if err := emit(item); err != nil {
					return err
				}
			}
			return g.Wait()
		})
	}
}

// CustomMergeStrategy adapts a CustomMerge node into a MergeStrategy.
func CustomMergeStrategy[T any](m CustomMerge[T]) MergeStrategy[T] {
	return func(ctx context.Context, pipes []Pipe[T]) Pipe[T] {
		out, err := m.Merge(ctx, pipes)
		if err != nil {
			return NewStreamingPipe(ctx, "custom-merge-error", func(ctx context.Context, emit func(T) error) error {
				return err
			})
		}
		return out
	}
}
