// Package flow assembles typed nodes (see package core) into a graph (this
// package's Builder/Graph) and runs it (Run), wiring pipes, fan-out, fan-in,
// and execution strategies the way each node's generic constructor captured
// them.
package flow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/strategy"
)

// NodeKind identifies which shape of work a CompiledNode performs; the
// runner dispatches on it.
type NodeKind int

const (
	KindSource NodeKind = iota
	KindTransform
	KindStreamTransform
	KindSink
	KindJoin
	KindWatermarkJoin
	KindAggregate
	KindCustomMerge
)

// StrategyMode selects how a Transform node applies itself across items.
type StrategyMode int

const (
	ModeSequential StrategyMode = iota
	ModeParallel
)

// strategyConfig is plain (non-generic) data a Builder option can mutate by
// node id, read lazily inside the generic execute closure the node's
// constructor built. This is how WithBlockingParallelism(id, n) can configure a node
// whose element types the builder method itself never needs to know.
type strategyConfig struct {
	mode        StrategyMode
	parallelism int
	policy      strategy.BackpressurePolicy
	resilient   bool
	errorHandler core.ErrorHandler
	maxRetries  int
}

// MergeKind selects the fan-in strategy a multi-input ordinary node (not a
// Join or CustomMerge) combines its upstreams with.
type MergeKind int

const (
	MergeInterleaveUnbounded MergeKind = iota
	MergeInterleaveBounded
	MergeConcatenate
)

// CompiledNode is the type-erased representation of one graph vertex. It is
// built by the generic constructors below (Source, Transform, ...), which
// close over the node's concrete element types so the graph/runner layer
// can treat every node uniformly through `any`-boxed pipes.
type CompiledNode struct {
	id   string
	kind NodeKind

	inputTypes []reflect.Type // nil for Source; [T] for single-input kinds; [L,R] for Join/WatermarkJoin
	outputType reflect.Type   // nil for Sink

	initialize func(ctx *core.Context) (any, error)
	execute    func(ctx *core.Context, in any) (any, error)
	executeSink func(ctx *core.Context, in any) error
	combine    func(ctx *core.Context, ins []any) (any, error)
	merge      func(ctx *core.Context, ins []any, kind MergeKind, capacity int) (any, error)
	tee        func(ctx *core.Context, out any, count, capacity int) ([]any, error)
	dispose    func(ctx context.Context) error

	strategyCfg   *strategyConfig // non-nil only for KindTransform nodes
	mergeKind     MergeKind
	mergeCapacity int
	teeCapacity   int
	restartable   bool // RestartNode is only honored for nodes the Builder marked restart-safe
}

func (n *CompiledNode) ID() string               { return n.id }
func (n *CompiledNode) Kind() NodeKind            { return n.kind }
func (n *CompiledNode) InputTypes() []reflect.Type { return n.inputTypes }
func (n *CompiledNode) OutputType() reflect.Type  { return n.outputType }

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func genericMerge[T any](ctx *core.Context, ins []any, kind MergeKind, capacity int, label string) (any, error) {
	pipes := make([]core.Pipe[T], 0, len(ins))
	for _, in := range ins {
		p, ok := in.(core.Pipe[T])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("node %q: upstream pipe type mismatch during merge", label)}
		}
		pipes = append(pipes, p)
	}
	if len(pipes) == 1 {
		return pipes[0], nil
	}
	var strat core.MergeStrategy[T]
	switch kind {
	case MergeConcatenate:
		strat = core.Concatenate[T](label)
	case MergeInterleaveBounded:
		strat = core.InterleaveBounded[T](label, capacity)
	default:
		strat = core.InterleaveUnbounded[T](label)
	}
	return strat(ctx, pipes), nil
}

func genericTee[T any](ctx *core.Context, out any, count, capacity int) ([]any, error) {
	pipe, ok := out.(core.Pipe[T])
	if !ok {
		return nil, &core.TypeMismatchError{Reason: "tee: producer output pipe type mismatch"}
	}
	t := core.NewTee[T](ctx, pipe, count, capacity)
	subs := t.Subscribers()
	result := make([]any, len(subs))
	for i, s := range subs {
		result[i] = s
	}
	return result, nil
}

// Source builds a CompiledNode from a core.Source[T].
func Source[T any](id string, src core.Source[T]) *CompiledNode {
	outT := typeOf[T]()
	n := &CompiledNode{
		id:         id,
		kind:       KindSource,
		outputType: outT,
		dispose:    src.Dispose,
	}
	n.initialize = func(ctx *core.Context) (any, error) {
		return src.Initialize(ctx)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[T](ctx, out, count, capacity)
	}
	return n
}

// Transform builds a CompiledNode from a core.Transform[T, U]. The node
// supports WithBlockingParallelism/WithDropNewestParallelism/
// WithDropOldestParallelism/WithResilience Builder options.
func Transform[T, U any](id string, tf core.Transform[T, U]) *CompiledNode {
	cfg := &strategyConfig{}
	n := &CompiledNode{
		id:          id,
		kind:        KindTransform,
		inputTypes:  []reflect.Type{typeOf[T]()},
		outputType:  typeOf[U](),
		strategyCfg: cfg,
		dispose:     tf.Dispose,
	}
	n.execute = func(pctx *core.Context, in any) (any, error) {
		pipe, ok := in.(core.Pipe[T])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("node %q: unexpected input pipe type", id)}
		}
		var actual core.Transform[T, U] = tf
		if cfg.resilient {
			handler := cfg.errorHandler
			if handler == nil {
				handler = core.DefaultErrorHandler{}
			}
			actual = strategy.ResilientTransform[T, U](tf, handler, id, cfg.maxRetries)
		}
		if cfg.mode == ModeParallel {
			return strategy.Parallel[T, U](pctx, actual, pipe, cfg.parallelism, cfg.policy, id), nil
		}
		return strategy.Sequential[T, U](pctx, actual, pipe, id), nil
	}
	n.merge = func(ctx *core.Context, ins []any, kind MergeKind, capacity int) (any, error) {
		return genericMerge[T](ctx, ins, kind, capacity, id)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[U](ctx, out, count, capacity)
	}
	return n
}

// StreamTransform builds a CompiledNode from a core.StreamTransform[T, U]
// (batchers, branches, taps, watermark assigners).
func StreamTransform[T, U any](id string, st core.StreamTransform[T, U]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindStreamTransform,
		inputTypes: []reflect.Type{typeOf[T]()},
		outputType: typeOf[U](),
		dispose:    st.Dispose,
	}
	n.execute = func(pctx *core.Context, in any) (any, error) {
		pipe, ok := in.(core.Pipe[T])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("node %q: unexpected input pipe type", id)}
		}
		return st.Execute(pctx, pipe)
	}
	n.merge = func(ctx *core.Context, ins []any, kind MergeKind, capacity int) (any, error) {
		return genericMerge[T](ctx, ins, kind, capacity, id)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[U](ctx, out, count, capacity)
	}
	return n
}

// Sink builds a CompiledNode from a core.Sink[T].
func Sink[T any](id string, sink core.Sink[T]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindSink,
		inputTypes: []reflect.Type{typeOf[T]()},
		dispose:    sink.Dispose,
	}
	n.executeSink = func(pctx *core.Context, in any) error {
		pipe, ok := in.(core.Pipe[T])
		if !ok {
			return &core.TypeMismatchError{Reason: fmt.Sprintf("node %q: unexpected input pipe type", id)}
		}
		return sink.Execute(pctx, pipe)
	}
	n.merge = func(ctx *core.Context, ins []any, kind MergeKind, capacity int) (any, error) {
		return genericMerge[T](ctx, ins, kind, capacity, id)
	}
	return n
}

// Join builds a CompiledNode from a core.Join[L, R, O]. Exactly two
// upstreams are expected, matched to the left/right slot by element type.
func Join[L, R, O any](id string, j core.Join[L, R, O]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindJoin,
		inputTypes: []reflect.Type{typeOf[L](), typeOf[R]()},
		outputType: typeOf[O](),
		dispose:    j.Dispose,
	}
	n.combine = func(pctx *core.Context, ins []any) (any, error) {
		if len(ins) != 2 {
			return nil, &core.GraphValidationError{Message: "join requires exactly two upstreams", Details: id}
		}
		left, ok := ins[0].(core.Pipe[L])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("join %q: left pipe type mismatch", id)}
		}
		right, ok := ins[1].(core.Pipe[R])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("join %q: right pipe type mismatch", id)}
		}
		tagged := core.TagJoinInputs[L, R](pctx, left, right, id+"-tagged")
		return j.Execute(pctx, tagged)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[O](ctx, out, count, capacity)
	}
	return n
}

// WatermarkJoin builds a CompiledNode from a core.WatermarkJoin[L, R, O].
// Its two upstreams must already be event-time streams (core.StreamItem),
// typically produced by a WatermarkAssigner node.
func WatermarkJoin[L, R, O any](id string, j core.WatermarkJoin[L, R, O]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindWatermarkJoin,
		inputTypes: []reflect.Type{reflect.TypeOf(core.StreamItem[L]{}), reflect.TypeOf(core.StreamItem[R]{})},
		outputType: typeOf[O](),
		dispose:    j.Dispose,
	}
	n.combine = func(pctx *core.Context, ins []any) (any, error) {
		if len(ins) != 2 {
			return nil, &core.GraphValidationError{Message: "windowed join requires exactly two upstreams", Details: id}
		}
		left, ok := ins[0].(core.Pipe[core.StreamItem[L]])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("windowed join %q: left pipe type mismatch", id)}
		}
		right, ok := ins[1].(core.Pipe[core.StreamItem[R]])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("windowed join %q: right pipe type mismatch", id)}
		}
		merged := core.TagWatermarkJoinInputs[L, R](pctx, left, right, id+"-tagged")
		return j.Execute(pctx, merged)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[O](ctx, out, count, capacity)
	}
	return n
}

// Aggregate builds a CompiledNode from a core.Aggregate[T, R]. Its upstream
// must already be an event-time stream, typically produced by a
// WatermarkAssigner node.
func Aggregate[T, R any](id string, agg core.Aggregate[T, R]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindAggregate,
		inputTypes: []reflect.Type{reflect.TypeOf(core.StreamItem[T]{})},
		outputType: reflect.TypeOf(core.StreamItem[R]{}),
		dispose:    agg.Dispose,
	}
	n.execute = func(pctx *core.Context, in any) (any, error) {
		pipe, ok := in.(core.Pipe[core.StreamItem[T]])
		if !ok {
			return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("node %q: unexpected input pipe type", id)}
		}
		return agg.Execute(pctx, pipe)
	}
	n.merge = func(ctx *core.Context, ins []any, kind MergeKind, capacity int) (any, error) {
		return genericMerge[core.StreamItem[T]](ctx, ins, kind, capacity, id)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[core.StreamItem[R]](ctx, out, count, capacity)
	}
	return n
}

// CustomMerge builds a CompiledNode from a core.CustomMerge[T], accepting
// any number of same-typed upstreams in declared edge order.
func CustomMerge[T any](id string, cm core.CustomMerge[T]) *CompiledNode {
	n := &CompiledNode{
		id:         id,
		kind:       KindCustomMerge,
		inputTypes: []reflect.Type{typeOf[T]()},
		outputType: typeOf[T](),
	}
	n.combine = func(pctx *core.Context, ins []any) (any, error) {
		pipes := make([]core.Pipe[T], 0, len(ins))
		for _, in := range ins {
			p, ok := in.(core.Pipe[T])
			if !ok {
				return nil, &core.TypeMismatchError{Reason: fmt.Sprintf("custom-merge %q: pipe type mismatch", id)}
			}
			pipes = append(pipes, p)
		}
		return cm.Merge(pctx, pipes)
	}
	n.tee = func(ctx *core.Context, out any, count, capacity int) ([]any, error) {
		return genericTee[T](ctx, out, count, capacity)
	}
	return n
}
