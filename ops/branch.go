package ops

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/telemetry"
)

// BranchErrorMode selects how a Branch reacts when one of its side handlers
// returns an error for an item.
type BranchErrorMode int

const (
	// RouteToErrorHandler consults the run's PipelineErrorHandler, if any;
	// with none configured the first side-handler failure fails the branch
	// at once, as a FailPipeline decision would.
	RouteToErrorHandler BranchErrorMode = iota
	// CollectAndThrow accumulates every side-handler error and fails the
	// branch with all of them once the main stream ends.
	CollectAndThrow
	// LogAndContinue logs the failure and keeps the main stream flowing.
	LogAndContinue
)

// SideHandler observes items flowing through a Branch without altering the
// main stream; it is any Sink.
type SideHandler[T any] core.Sink[T]

// Branch forwards every item from its input to its output unchanged, while
// also delivering a copy of each item to every registered SideHandler.
// Handlers must be registered before the first item arrives: registration
// freezes on first use, matching the fan-out wiring being fixed once a run
// starts.
type Branch[T any] struct {
	mu       sync.Mutex
	handlers []SideHandler[T]
	frozen   bool
	mode     BranchErrorMode
	nodeID   string
	logger   telemetry.Logger
}

// NewBranch builds a Branch with the given error mode.
func NewBranch[T any](nodeID string, mode BranchErrorMode, logger telemetry.Logger) *Branch[T] {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Branch[T]{mode: mode, nodeID: nodeID, logger: logger}
}

// Register adds a side handler. Returns an error if the branch has already
// started forwarding items.
func (b *Branch[T]) Register(h SideHandler[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return fmt.Errorf("branch %q: cannot register a handler after items have started flowing", b.nodeID)
	}
	b.handlers = append(b.handlers, h)
	return nil
}

func (b *Branch[T]) Execute(ctx context.Context, in core.Pipe[T]) (core.Pipe[T], error) {
	return core.NewStreamingPipe(ctx, b.nodeID, func(ctx context.Context, emit func(T) error) error {
		var collected []error
		for {
			item, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			b.mu.Lock()
			b.frozen = true
			handlers := append([]SideHandler[T](nil), b.handlers...)
			b.mu.Unlock()

			if len(handlers) > 0 {
				if err := b.dispatch(ctx, item, handlers, &collected); err != nil {
					return err
				}
			}
			if err := emit(item); err != nil {
				return err
			}
		}
		if len(collected) > 0 {
			return errors.Join(collected...)
		}
		return nil
	}), nil
}

func (b *Branch[T]) dispatch(ctx context.Context, item T, handlers []SideHandler[T], collected *[]error) error {
	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h SideHandler[T]) {
			defer wg.Done()
			p := core.NewMaterializedPipe([]T{item}, fmt.Sprintf("%s-side-%d", b.nodeID, i))
			errs[i] = h.Execute(ctx, p)
		}(i, h)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		wrapped := &core.BranchHandlerFailureError{NodeID: b.nodeID, BranchIndex: i, Err: err}
		switch b.mode {
		case RouteToErrorHandler:
			pctx, _ := ctx.(*core.Context)
			if pctx == nil || pctx.ErrorHandler == nil {
				return wrapped
			}
			switch pctx.ErrorHandler.Handle(ctx, b.nodeID, wrapped) {
			case core.FailPipeline:
				return wrapped
			default:
				b.logger.Warn("branch side handler failed, continuing per pipeline error handler", telemetry.Err(wrapped))
			}
		case CollectAndThrow:
			*collected = append(*collected, wrapped)
		case LogAndContinue:
			b.logger.Warn("branch side handler failed, continuing", telemetry.Err(wrapped))
		}
	}
	return nil
}

func (b *Branch[T]) Dispose(ctx context.Context) error { return nil }
