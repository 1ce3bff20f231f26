package core

import "context"

// Source mints a Pipe[T] when a run starts. It has no upstream.
type Source[T any] interface {
	Initialize(ctx context.Context) (Pipe[T], error)
	Dispose(ctx context.Context) error
}

// Transform maps one item to one item, synchronously, with a single error
// return. It is the workhorse role: most nodes in a graph are a Transform
// wrapped by an execution Strategy (see package strategy).
type Transform[T, U any] interface {
	Execute(ctx context.Context, item T) (U, error)
	Dispose(ctx context.Context) error
}

// FastPathTransform is optionally implemented by a Transform whose Execute
// can complete synchronously for some items without incurring the overhead
// an execution strategy would otherwise schedule around it (e.g. a worker
// handoff). strategy.Sequential calls Execute inline when CanComplete
// reports true for the given item.
type FastPathTransform[T, U any] interface {
	Transform[T, U]
	CanComplete(item T) bool
}

// StreamTransform maps a whole Pipe to another Pipe, for operators whose
// logic only makes sense over the full sequence (batching, branching,
// tapping).
type StreamTransform[T, U any] interface {
	Execute(ctx context.Context, in Pipe[T]) (Pipe[U], error)
	Dispose(ctx context.Context) error
}

// Sink drains a Pipe to completion and returns whatever error that produced.
// It has no downstream.
type Sink[T any] interface {
	Execute(ctx context.Context, in Pipe[T]) error
	Dispose(ctx context.Context) error
}

// JoinType selects which side(s) of a join emit an unmatched record once
// their input is exhausted.
type JoinType string

const (
	JoinInner      JoinType = "inner"
	JoinLeftOuter  JoinType = "left_outer"
	JoinRightOuter JoinType = "right_outer"
	JoinFullOuter  JoinType = "full_outer"
)

// Join consumes a single interleaved, side-tagged stream and produces joined
// output. Two logically distinct upstreams are combined into this one
// stream by TagJoinInputs before Execute is ever called.
type Join[L, R, O any] interface {
	Execute(ctx context.Context, in Pipe[Tagged[L, R]]) (Pipe[O], error)
	Dispose(ctx context.Context) error
}

// WatermarkJoin is a Join whose matching is bounded by event-time windows
// instead of process lifetime; it needs to see watermarks to know when a
// window can no longer receive a match and should close.
type WatermarkJoin[L, R, O any] interface {
	Execute(ctx context.Context, in Pipe[StreamItem[Tagged[L, R]]]) (Pipe[O], error)
	Dispose(ctx context.Context) error
}

// Aggregate consumes an event-time stream and produces one result per key
// per window, emitted once that window's watermark has passed.
type Aggregate[T, R any] interface {
	Execute(ctx context.Context, in Pipe[StreamItem[T]]) (Pipe[StreamItem[R]], error)
	Dispose(ctx context.Context) error
}

// CustomMerge combines N upstream pipes of the same type into one, for
// fan-in policies beyond the built-in Concatenate/Interleave strategies.
type CustomMerge[T any] interface {
	Merge(ctx context.Context, in []Pipe[T]) (Pipe[T], error)
}
