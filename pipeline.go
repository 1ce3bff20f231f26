package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/telemetry"
)

// Options configures a Run.
type Options struct {
	RunID        string
	Logger       telemetry.Logger
	ErrorHandler core.PipelineErrorHandler
	Params       map[string]any
}

// Result is what Run returns once every node has finished, or the run
// failed and every remaining goroutine was cancelled.
type Result struct {
	Err        error
	Cancelled  bool
	NodeErrors map[string]error
}

// Status reduces Result to the tri-state a caller typically branches on.
func (r Result) Status() core.ExitStatus {
	return core.ExitStatus{Cancelled: r.Cancelled, Err: r.Err}
}

// Run executes every node in g concurrently. Each edge is a buffered(1)
// handoff channel carrying the single Pipe value its producer built; a
// node blocks on its incoming edges until its upstream(s) are ready, so
// correctness never depends on which goroutine the scheduler happens to
// start first. A node failure (or panic) cancels every other node's
// context through the shared errgroup.
func Run(ctx context.Context, g *Graph, opts Options) Result {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}

	eg, gctx := errgroup.WithContext(ctx)
	root := core.NewContext(gctx, runID, logger)
	root.ErrorHandler = opts.ErrorHandler
	for k, v := range opts.Params {
		root.SetParam(k, v)
	}

	edgeChans := make(map[*edge]chan any, len(g.order))
	for _, e := range g.order {
		edgeChans[e] = make(chan any, 1)
	}

	var mu sync.Mutex
	nodeErrs := make(map[string]error)

	for _, n := range g.Nodes() {
		n := n
		eg.Go(func() (err error) {
			nodeCtx := root.WithNode(n.id)
			// Dispose runs exactly once per node, regardless of whether it
			// succeeds, fails, panics, or never starts work because an
			// upstream already cancelled the run.
			defer disposeOnce(n, context.Background(), nodeCtx.Logger)
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					sz := runtime.Stack(buf, false)
					err = fmt.Errorf("node %q panicked: %v\n%s", n.id, r, buf[:sz])
				}
				if err != nil {
					mu.Lock()
					nodeErrs[n.id] = err
					mu.Unlock()
					nodeCtx.Logger.Error("node failed", telemetry.Err(err))
				}
			}()

			ins, fromTypes, upstreamDropped, err := gatherInputs(gctx, g, n, edgeChans)
			if err != nil {
				return &core.UpstreamFailureError{NodeID: n.id, Err: err}
			}
			if upstreamDropped {
				closeOutgoing(g, n, edgeChans)
				return nil
			}

			out, dropped, err := runNode(nodeCtx, n, ins, fromTypes)
			if err != nil {
				return err
			}
			if dropped {
				closeOutgoing(g, n, edgeChans)
				return nil
			}
			if n.kind == KindSink {
				return nil
			}
			return distribute(nodeCtx, g, n, out, edgeChans)
		})
	}

	err := eg.Wait()
	return Result{Err: err, Cancelled: errors.Is(err, context.Canceled), NodeErrors: nodeErrs}
}

// maxNodeRestarts bounds how many times runNode will re-dispatch a node
// whose PipelineErrorHandler keeps answering RestartNode, so a handler that
// always restarts can't spin a node forever.
const maxNodeRestarts = 2

// runNode dispatches n and, on failure, consults ctx.ErrorHandler for what
// the run does next. No configured handler behaves exactly like
// FailPipeline, the runner's original unconditional-cancel behavior.
// ContinueWithoutNode swallows the error; the caller closes n's outgoing
// edges so its downstream subtree drains to completion on its own instead of
// blocking forever, while independent branches of the graph keep running.
// RestartNode re-dispatches n, but only when the Builder marked n
// restart-safe (see Builder.WithRestart) and attempts remain; otherwise it
// falls back to ContinueWithoutNode so the decision is never a no-op.
func runNode(ctx *core.Context, n *CompiledNode, ins []any, fromTypes []reflect.Type) (out any, dropped bool, err error) {
	out, err = dispatch(ctx, n, ins, fromTypes)
	if err == nil {
		return out, false, nil
	}

	handler := ctx.ErrorHandler
	if handler == nil {
		return nil, false, err
	}

	for attempts := 0; ; attempts++ {
		switch handler.Handle(ctx, n.id, err) {
		case core.FailPipeline:
			return nil, false, err
		case core.RestartNode:
			if !n.restartable || attempts >= maxNodeRestarts {
				ctx.Logger.Error("node not eligible for further restart, dropping", telemetry.Err(err))
				return nil, true, nil
			}
			ctx.Logger.Error("restarting node after failure", telemetry.Err(err))
			out, err = dispatch(ctx, n, ins, fromTypes)
			if err == nil {
				return out, false, nil
			}
		default: // ContinueWithoutNode
			ctx.Logger.Error("node failed, continuing without it", telemetry.Err(err))
			return nil, true, nil
		}
	}
}

// closeOutgoing closes every edge channel n feeds, with nothing ever sent,
// so each downstream consumer's gatherInputs observes the edge as dropped
// and cascades the same treatment to its own outgoing edges in turn.
func closeOutgoing(g *Graph, n *CompiledNode, edgeChans map[*edge]chan any) {
	for _, e := range g.edges[n.id] {
		close(edgeChans[e])
	}
}

// disposeOnce runs n's teardown hook, if it has one, with a fresh
// background context so a cancelled run context doesn't also block
// cleanup. Each node has exactly one goroutine in Run, so this defer site
// is itself the "exactly once" guarantee; there is no shared state to race.
func disposeOnce(n *CompiledNode, ctx context.Context, logger telemetry.Logger) {
	if n.dispose == nil {
		return
	}
	if err := n.dispose(ctx); err != nil {
		logger.Error("node dispose failed", telemetry.Err(err))
	}
}

// gatherInputs blocks until every edge feeding n has delivered its producer
// pipe, or ctx is cancelled. It also reports each input's producing node's
// declared output type, in the same order, so join nodes can be slotted
// correctly. A closed edge channel means its producer was dropped
// (ContinueWithoutNode); gatherInputs reports that by returning dropped=true
// without waiting on any remaining edge, so n cascades the same drop to its
// own outgoing edges instead of blocking on input that will never arrive.
func gatherInputs(ctx context.Context, g *Graph, n *CompiledNode, edgeChans map[*edge]chan any) (ins []any, types []reflect.Type, dropped bool, err error) {
	edges := g.IncomingEdges(n.id)
	if len(edges) == 0 {
		return nil, nil, false, nil
	}
	ins = make([]any, len(edges))
	types = make([]reflect.Type, len(edges))
	for i, e := range edges {
		select {
		case <-ctx.Done():
			return nil, nil, false, ctx.Err()
		case v, ok := <-edgeChans[e]:
			if !ok {
				return nil, nil, true, nil
			}
			ins[i] = v
			types[i] = g.nodes[e.from].outputType
		}
	}
	return ins, types, false, nil
}

// dispatch runs the node's own logic once its inputs are ready, returning
// the node's output pipe (nil for a Sink, which has none).
func dispatch(ctx *core.Context, n *CompiledNode, ins []any, fromTypes []reflect.Type) (any, error) {
	switch n.kind {
	case KindSource:
		return n.initialize(ctx)

	case KindSink:
		in, err := combineOrdinary(ctx, n, ins)
		if err != nil {
			return nil, err
		}
		return nil, n.executeSink(ctx, in)

	case KindJoin, KindWatermarkJoin:
		ordered, err := orderJoinInputs(n, ins, fromTypes)
		if err != nil {
			return nil, err
		}
		return n.combine(ctx, ordered)

	case KindCustomMerge:
		return n.combine(ctx, ins)

	default: // KindTransform, KindStreamTransform, KindAggregate
		in, err := combineOrdinary(ctx, n, ins)
		if err != nil {
			return nil, err
		}
		return n.execute(ctx, in)
	}
}

// combineOrdinary passes a single upstream through unchanged, or merges
// several same-typed upstreams with the node's configured (or default)
// merge strategy.
func combineOrdinary(ctx *core.Context, n *CompiledNode, ins []any) (any, error) {
	if len(ins) == 1 {
		return ins[0], nil
	}
	return n.merge(ctx, ins, n.mergeKind, n.mergeCapacity)
}

// orderJoinInputs places ins into [left, right] slot order for a two-sided
// Join/WatermarkJoin node, matching each input against the node's declared
// input types. When both sides share the same Go type the match is
// ambiguous by type alone; declared edge order (the order Connect was
// called) is then taken as [left, right] as-is.
func orderJoinInputs(n *CompiledNode, ins []any, fromTypes []reflect.Type) ([]any, error) {
	if len(ins) != 2 || len(n.inputTypes) != 2 {
		return nil, &core.GraphValidationError{Message: "join requires exactly two upstreams", Details: n.id}
	}
	left, right := n.inputTypes[0], n.inputTypes[1]
	switch {
	case fromTypes[0] == left && fromTypes[1] == right:
		return ins, nil
	case fromTypes[0] == right && fromTypes[1] == left:
		return []any{ins[1], ins[0]}, nil
	default:
		return ins, nil
	}
}

// distribute hands the node's output pipe to each outgoing edge. A single
// outgoing edge gets the pipe directly; more than one fans out through
// core.Tee so each downstream consumes independently.
func distribute(ctx *core.Context, g *Graph, n *CompiledNode, out any, edgeChans map[*edge]chan any) error {
	edges := g.edges[n.id]
	if len(edges) == 0 {
		return nil
	}
	if len(edges) == 1 {
		edgeChans[edges[0]] <- out
		return nil
	}
	subs, err := n.tee(ctx, out, len(edges), n.teeCapacity)
	if err != nil {
		return err
	}
	for i, e := range edges {
		edgeChans[e] <- subs[i]
	}
	return nil
}
