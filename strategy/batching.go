package strategy

import (
	"time"

	"context"

	"github.com/npipeline/flow/core"
)

type batchItem[T any] struct {
	item T
	ok   bool
	err  error
}

// Batching buffers items from in into []T batches, flushing whenever size
// items have accumulated or timespan has elapsed since the first buffered
// item, whichever comes first. size <= 0 disables the size trigger;
// timespan <= 0 disables the time trigger (at least one must be set for the
// batch to ever flush on anything other than upstream exhaustion).
func Batching[T any](ctx context.Context, in core.Pipe[T], size int, timespan time.Duration, label string) core.Pipe[[]T] {
	return core.NewStreamingPipe(ctx, label, func(ctx context.Context, emit func([]T) error) error {
		feed := make(chan batchItem[T])
		go func() {
			defer close(feed)
			for {
				item, ok, err := in.Next(ctx)
				if err != nil {
					feed <- batchItem[T]{err: err}
					return
				}
				if !ok {
					return
				}
				feed <- batchItem[T]{item: item, ok: true}
			}
		}()

		var batch []T
		var timer *time.Timer
		var timerC <-chan time.Time

		stopTimer := func() {
			if timer != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerC = nil
		}
		startTimer := func() {
			if timespan <= 0 {
				return
			}
			if timer == nil {
				timer = time.NewTimer(timespan)
			} else {
				timer.Reset(timespan)
			}
			timerC = timer.C
		}
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			b := batch
			batch = nil
			stopTimer()
			return emit(b)
		}

		for {
			select {
			case <-ctx.Done():
				return core.ErrCancelled
			case v, open := <-feed:
				if !open {
					return flush()
				}
				if v.err != nil {
					_ = flush()
					return v.err
				}
				if len(batch) == 0 {
					startTimer()
				}
				batch = append(batch, v.item)
				if size > 0 && len(batch) >= size {
					if err := flush(); err != nil {
						return err
					}
				}
			case <-timerC:
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})
}
