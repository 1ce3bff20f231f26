package ops

import (
	"context"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/telemetry"
)

// Tap is a Branch pre-wired with exactly one side handler and LogAndContinue
// semantics: the common case of observing a stream (metrics, debug logging)
// without being able to fail the main flow. Each item is forwarded to the
// main output only after the side handler has returned for it, so a slow
// side handler paces the main stream.
type Tap[T any] struct {
	branch *Branch[T]
}

// NewTap wires sink as the sole observer of the main stream.
func NewTap[T any](nodeID string, sink core.Sink[T], logger telemetry.Logger) (*Tap[T], error) {
	b := NewBranch[T](nodeID, LogAndContinue, logger)
	if err := b.Register(sink); err != nil {
		return nil, err
	}
	return &Tap[T]{branch: b}, nil
}

func (t *Tap[T]) Execute(ctx context.Context, in core.Pipe[T]) (core.Pipe[T], error) {
	return t.branch.Execute(ctx, in)
}

func (t *Tap[T]) Dispose(ctx context.Context) error { return nil }
