package strategy

import (
	"context"

	"github.com/npipeline/flow/core"
)

// ResilientTransform wraps tf so per-item failures are resolved through
// handler (Skip/Retry/Fail) before surfacing to the enclosing strategy
// (Sequential or Parallel). Retry re-invokes tf.Execute on the same item, up
// to maxRetries times, after which the item is treated as a hard failure.
func ResilientTransform[T, U any](tf core.Transform[T, U], handler core.ErrorHandler, nodeID string, maxRetries int) core.Transform[T, U] {
	return &resilientTransform[T, U]{tf: tf, handler: handler, nodeID: nodeID, maxRetries: maxRetries}
}

type resilientTransform[T, U any] struct {
	tf         core.Transform[T, U]
	handler    core.ErrorHandler
	nodeID     string
	maxRetries int
}

func (r *resilientTransform[T, U]) Execute(ctx context.Context, item T) (U, error) {
	var zero U
	attempt := 0
	for {
		result, err := r.tf.Execute(ctx, item)
		if err == nil {
			return result, nil
		}
		decision := r.handler.Handle(ctx, r.nodeID, item, err)
		switch decision {
		case core.Skip:
			return zero, ErrSkipItem
		case core.Retry:
			attempt++
			if attempt > r.maxRetries {
				return zero, &core.ItemFailureError{NodeID: r.nodeID, Item: item, Err: err}
			}
		default: // core.Fail
			return zero, &core.ItemFailureError{NodeID: r.nodeID, Item: item, Err: err}
		}
	}
}

func (r *resilientTransform[T, U]) Dispose(ctx context.Context) error {
	return r.tf.Dispose(ctx)
}
