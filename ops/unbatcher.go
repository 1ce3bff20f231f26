package ops

import (
	"context"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/strategy"
)

// Unbatcher flattens []T batches back into individual items.
type Unbatcher[T any] struct{}

func NewUnbatcher[T any]() *Unbatcher[T] { return &Unbatcher[T]{} }

func (u *Unbatcher[T]) Execute(ctx context.Context, in core.Pipe[[]T]) (core.Pipe[T], error) {
	return strategy.Unbatching[T](ctx, in, "unbatcher"), nil
}

func (u *Unbatcher[T]) Dispose(ctx context.Context) error { return nil }
