// Package ops provides the stateful streaming operators built on top of
// package strategy and package window: batching, branching, tapping, joins,
// and windowed aggregation.
package ops

import (
	"context"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/strategy"
)

// Batcher groups items from its input into fixed-size or time-bounded
// batches.
type Batcher[T any] struct {
	Size     int
	Timespan time.Duration
	label    string
}

// NewBatcher builds a Batcher flushing every size items or every timespan,
// whichever comes first.
func NewBatcher[T any](size int, timespan time.Duration) *Batcher[T] {
	return &Batcher[T]{Size: size, Timespan: timespan, label: "batcher"}
}

func (b *Batcher[T]) Execute(ctx context.Context, in core.Pipe[T]) (core.Pipe[[]T], error) {
	return strategy.Batching[T](ctx, in, b.Size, b.Timespan, b.label), nil
}

func (b *Batcher[T]) Dispose(ctx context.Context) error { return nil }
