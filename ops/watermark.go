package ops

import (
	"context"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/window"
)

// WatermarkAssigner wraps a plain stream into an event-time stream: each
// item is stamped with its timestamp (via TimeOf) and interleaved with
// periodic watermark items computed by Generator, the prerequisite input
// shape Aggregate and WindowedJoin consume.
type WatermarkAssigner[T any] struct {
	TimeOf       func(T) time.Time
	Generator    *window.BoundedOutOfOrdernessGenerator
	TickInterval time.Duration
}

// NewWatermarkAssigner builds an assigner using a bounded out-of-orderness
// generator with the given allowed lateness. maxLateness=0 is honored as
// zero tolerance for out-of-order arrival; pass window.DefaultMaxLateness to
// get the generator's own default instead.
func NewWatermarkAssigner[T any](timeOf func(T) time.Time, maxLateness time.Duration) *WatermarkAssigner[T] {
	return &WatermarkAssigner[T]{
		TimeOf:       timeOf,
		Generator:    window.NewBoundedOutOfOrdernessGenerator(maxLateness),
		TickInterval: window.DefaultTickInterval,
	}
}

func (w *WatermarkAssigner[T]) Execute(ctx context.Context, in core.Pipe[T]) (core.Pipe[core.StreamItem[T]], error) {
	tick := w.TickInterval
	if tick <= 0 {
		tick = window.DefaultTickInterval
	}
	return core.NewStreamingPipe(ctx, "watermark-assigner", func(ctx context.Context, emit func(core.StreamItem[T]) error) error {
		feed := make(chan struct {
			item T
			ok   bool
			err  error
		})
		go func() {
			defer close(feed)
			for {
				item, ok, err := in.Next(ctx)
				if err != nil {
					feed <- struct {
						item T
						ok   bool
						err  error
					}{err: err}
					return
				}
				if !ok {
					return
				}
				feed <- struct {
					item T
					ok   bool
					err  error
				}{item: item, ok: true}
			}
		}()

		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		emitWatermark := func() error {
			if wm, advanced := w.Generator.CurrentWatermark(); advanced {
				return emit(core.Watermark[T](wm))
			}
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return core.ErrCancelled
			case v, open := <-feed:
				if !open {
					return emitWatermark()
				}
				if v.err != nil {
					return v.err
				}
				ts := w.TimeOf(v.item)
				w.Generator.Observe(ts)
				if err := emit(core.Data(v.item, ts)); err != nil {
					return err
				}
			case <-ticker.C:
				if err := emitWatermark(); err != nil {
					return err
				}
			}
		}
	}), nil
}

func (w *WatermarkAssigner[T]) Dispose(ctx context.Context) error { return nil }
