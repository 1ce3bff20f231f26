// Package strategy provides the execution strategies a Transform node can be
// wrapped in: sequential application, bounded-concurrency parallel
// application, batching/unbatching, and resilient retry.
package strategy

import (
	"context"
	"errors"

	"github.com/npipeline/flow/core"
)

// ErrSkipItem is returned internally by a ResilientTransform to tell its
// enclosing strategy to drop an item silently instead of failing the pipe.
var ErrSkipItem = errors.New("flow/strategy: item skipped by error handler")

// Sequential applies tf to each item from in, one at a time, preserving
// input order exactly in the output.
func Sequential[T, U any](ctx context.Context, tf core.Transform[T, U], in core.Pipe[T], label string) core.Pipe[U] {
	fast, _ := tf.(core.FastPathTransform[T, U])
	return core.NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(U) error) error {
		for {
			item, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			var result U
			var terr error
			if fast != nil && fast.CanComplete(item) {
				result, terr = fast.Execute(ctx, item)
			} else {
				result, terr = tf.Execute(ctx, item)
			}
			if terr != nil {
				if errors.Is(terr, ErrSkipItem) {
					continue
				}
				var itemFail *core.ItemFailureError
				if errors.As(terr, &itemFail) {
					return terr
				}
				return &core.ItemFailureError{NodeID: label, Item: item, Err: terr}
			}
			if err := emit(result); err != nil {
				return err
			}
		}
	})
}
