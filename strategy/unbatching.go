package strategy

import (
	"context"

	"github.com/npipeline/flow/core"
)

// Unbatching flattens each []T batch from in back into its individual items,
// in order, both within a batch and across batches.
func Unbatching[T any](ctx context.Context, in core.Pipe[[]T], label string) core.Pipe[T] {
	return core.NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(T) error) error {
		for {
			batch, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			for _, item := range batch {
				if err := emit(item); err != nil {
					return err
				}
			}
		}
	})
}
