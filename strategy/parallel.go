package strategy

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/npipeline/flow/core"
)

// BackpressurePolicy selects what happens when Parallel's shared work queue
// is full and a new item arrives from upstream.
type BackpressurePolicy int

const (
	// Blocking pauses the upstream pull until a worker frees a queue slot.
	Blocking BackpressurePolicy = iota
	// DropNewest discards the arriving item and keeps pulling.
	DropNewest
	// DropOldest evicts the queue's oldest pending item to make room.
	DropOldest
)

type parallelResult[U any] struct {
	value U
	err   error
	item  any
}

// Parallel runs tf over in with n concurrent workers pulling from a shared
// bounded queue of size n, emitting results in completion order (the
// normative emission order for this strategy: a result is available for
// emission the instant its worker finishes, independent of input order).
func Parallel[T, U any](ctx context.Context, tf core.Transform[T, U], in core.Pipe[T], n int, policy BackpressurePolicy, label string) core.Pipe[U] {
	if n < 1 {
		n = 1
	}
	return core.NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(U) error) error {
		queue := make(chan T, n)
		results := make(chan parallelResult[U], n)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(queue)
			for {
				item, ok, err := in.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				switch policy {
				case DropNewest:
					select {
					case queue <- item:
					default:
					}
				case DropOldest:
					select {
					case queue <- item:
					default:
						select {
						case <-queue:
						default:
						}
						select {
						case queue <- item:
						default:
						}
					}
				default: // Blocking
					select {
					case queue <- item:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
		})

		var workers sync.WaitGroup
		workers.Add(n)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				defer workers.Done()
				for item := range queue {
					result, err := tf.Execute(gctx, item)
					if err != nil && errors.Is(err, ErrSkipItem) {
						continue
					}
					select {
					case results <- parallelResult[U]{value: result, err: err, item: item}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}

		go func() {
			workers.Wait()
			close(results)
		}()

		for r := range results {
			if r.err != nil {
				var itemFail *core.ItemFailureError
				if errors.As(r.err, &itemFail) {
					return r.err
				}
				return &core.ItemFailureError{NodeID: label, Item: r.item, Err: r.err}
			}
			if err := emit(r.value); err != nil {
				return err
			}
		}
		return g.Wait()
	})
}
