package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Side names which upstream of a two-sided join a Tagged value came from.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Tagged is the envelope a Join consumes: a stream interleaving items from
// two distinctly-typed upstreams, each one tagged with which side it came
// from. This is the explicit alternative to resolving join-side ambiguity
// by structural type identity — L and R may even be the same Go type.
type Tagged[L, R any] struct {
	Side  Side
	Left  L
	Right R
}

func TagLeft[L, R any](v L) Tagged[L, R]  { return Tagged[L, R]{Side: SideLeft, Left: v} }
func TagRight[L, R any](v R) Tagged[L, R] { return Tagged[L, R]{Side: SideRight, Right: v} }

// TagJoinInputs interleaves left and right, tagging each item with its side,
// in arrival order. Both upstreams are drained concurrently so a slow side
// never starves the other's delivery.
func TagJoinInputs[L, R any](ctx context.Context, left Pipe[L], right Pipe[R], label string) Pipe[Tagged[L, R]] {
	return NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(Tagged[L, R]) error) error {
		g, gctx := errgroup.WithContext(ctx)
		out := make(chan Tagged[L, R])

		g.Go(func() error {
			for {
				item, ok, err := left.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case out <- TagLeft[L, R](item):
				}
			}
		})
		g.Go(func() error {
			for {
				item, ok, err := right.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case out <- TagRight[L, R](item):
				}
			}
		})

		go func() {
			_ = g.Wait()
			close(out)
		}()

		for item := range out {
			if err := emit(item); err != nil {
				return err
			}
		}
		return g.Wait()
	})
}

// TagWatermarkJoinInputs is TagJoinInputs generalized to StreamItem-wrapped
// upstreams, preserving each side's watermark items alongside its data so a
// WatermarkJoin can drive window closure from either side.
func TagWatermarkJoinInputs[L, R any](ctx context.Context, left Pipe[StreamItem[L]], right Pipe[StreamItem[R]], label string) Pipe[StreamItem[Tagged[L, R]]] {
	return NewStreamingPipe(ctx, label, func(ctx context.Context, emit func(StreamItem[Tagged[L, R]]) error) error {
		g, gctx := errgroup.WithContext(ctx)
		out := make(chan StreamItem[Tagged[L, R]])

		g.Go(func() error {
			for {
				si, ok, err := left.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				var tagged StreamItem[Tagged[L, R]]
				if si.IsWatermark {
					tagged = Watermark[Tagged[L, R]](si.Timestamp)
				} else {
					tagged = Data(TagLeft[L, R](si.Value), si.Timestamp)
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case out <- tagged:
				}
			}
		})
		g.Go(func() error {
			for {
				si, ok, err := right.Next(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				var tagged StreamItem[Tagged[L, R]]
				if si.IsWatermark {
					tagged = Watermark[Tagged[L, R]](si.Timestamp)
				} else {
					tagged = Data(TagRight[L, R](si.Value), si.Timestamp)
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case out <- tagged:
				}
			}
		})

		go func() {
			_ = g.Wait()
			close(out)
		}()

		for item := range out {
			if err := emit(item); err != nil {
				return err
			}
		}
		return g.Wait()
	})
}
