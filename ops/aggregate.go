package ops

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/window"
)

// AggregateMetrics exposes live observability for an Aggregate's open
// (not-yet-emitted) window-key accumulators.
type AggregateMetrics struct {
	observed atomic.Int64
	closed   atomic.Int64
	peak     atomic.Int64
}

func (m *AggregateMetrics) Observed() int64 { return m.observed.Load() }
func (m *AggregateMetrics) Closed() int64   { return m.closed.Load() }
func (m *AggregateMetrics) Peak() int64     { return m.peak.Load() }

func (m *AggregateMetrics) setOpen(n int64) {
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

type aggKey[K comparable] struct {
	start int64
	end   int64
	key   K
}

// Aggregate accumulates T values per key per event-time window, emitting one
// R result per (key, window) once a watermark has passed the window's end.
type Aggregate[T any, K comparable, ACC, R any] struct {
	Key      KeySelector[T, K]
	Init     func() ACC
	Step     func(ACC, T) ACC
	Result   func(ACC) R
	Assigner window.Assigner
	Metrics  *AggregateMetrics
}

func (a *Aggregate[T, K, ACC, R]) Execute(ctx context.Context, in core.Pipe[core.StreamItem[T]]) (core.Pipe[core.StreamItem[R]], error) {
	metrics := a.Metrics
	if metrics == nil {
		metrics = &AggregateMetrics{}
	}
	return core.NewStreamingPipe(ctx, "aggregate", func(ctx context.Context, emit func(core.StreamItem[R]) error) error {
		acc := make(map[aggKey[K]]ACC)

		closeExpired := func(watermark time.Time) error {
			wmNs := watermark.UnixNano()
			for k, v := range acc {
				if k.end > wmNs {
					continue
				}
				if err := emit(core.Data(a.Result(v), time.Unix(0, k.end).UTC())); err != nil {
					return err
				}
				delete(acc, k)
				metrics.closed.Add(1)
			}
			metrics.setOpen(int64(len(acc)))
			return nil
		}

		for {
			si, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if si.IsWatermark {
				if err := closeExpired(si.Timestamp); err != nil {
					return err
				}
				continue
			}

			key := a.Key(si.Value)
			for _, w := range a.Assigner.AssignWindows(si.Timestamp) {
				k := aggKey[K]{start: w.Start.UnixNano(), end: w.End.UnixNano(), key: key}
				cur, exists := acc[k]
				if !exists {
					cur = a.Init()
					metrics.observed.Add(1)
					metrics.setOpen(int64(len(acc)) + 1)
				}
				acc[k] = a.Step(cur, si.Value)
			}
		}

		for k, v := range acc {
			if err := emit(core.Data(a.Result(v), time.Unix(0, k.end).UTC())); err != nil {
				return err
			}
			metrics.closed.Add(1)
		}
		return nil
	}), nil
}

func (a *Aggregate[T, K, ACC, R]) Dispose(ctx context.Context) error { return nil }

// SimpleAggregate builds an Aggregate whose accumulator type equals its
// result type, the common case where no separate accumulator
// representation is needed (sums, counts, running folds).
func SimpleAggregate[T any, K comparable, R any](key KeySelector[T, K], init func() R, step func(R, T) R, assigner window.Assigner) *Aggregate[T, K, R, R] {
	return &Aggregate[T, K, R, R]{
		Key:      key,
		Init:     init,
		Step:     step,
		Result:   func(r R) R { return r },
		Assigner: assigner,
	}
}
