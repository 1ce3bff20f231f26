package ops

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/window"
)

// JoinStateMetrics exposes live observability for a WindowedJoin's pending
// (unmatched, not-yet-closed) window state.
type JoinStateMetrics struct {
	openWindows atomic.Int64
	peak        atomic.Int64
	closed      atomic.Int64
}

func (m *JoinStateMetrics) OpenWindows() int64 { return m.openWindows.Load() }
func (m *JoinStateMetrics) Peak() int64        { return m.peak.Load() }
func (m *JoinStateMetrics) Closed() int64      { return m.closed.Load() }

func (m *JoinStateMetrics) setOpen(n int64) {
	m.openWindows.Store(n)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

type windowKey[K comparable] struct {
	start int64
	end   int64
	key   K
}

type windowEntry[L, R any] struct {
	hasL, hasR bool
	l          L
	r          R
}

// WindowedJoin matches left and right items by key within the same
// event-time window, as assigned by Assigner. A window closes once a
// watermark passes its end, which evicts its entries from the matching
// state; any configured outer-join records for unmatched entries are
// emitted only when the input ends.
type WindowedJoin[L, R any, K comparable, O any] struct {
	LeftKey   KeySelector[L, K]
	RightKey  KeySelector[R, K]
	Assigner  window.Assigner
	Type      core.JoinType
	Create    InnerProjection[L, R, O]
	FromLeft  OuterProjection[L, O]
	FromRight OuterProjection[R, O]
	Metrics   *JoinStateMetrics
}

func (j *WindowedJoin[L, R, K, O]) Execute(ctx context.Context, in core.Pipe[core.StreamItem[core.Tagged[L, R]]]) (core.Pipe[O], error) {
	if (j.Type == core.JoinLeftOuter || j.Type == core.JoinFullOuter) && j.FromLeft == nil {
		return nil, &core.TypeMismatchError{Reason: "left outer windowed join requires a FromLeft projection"}
	}
	if (j.Type == core.JoinRightOuter || j.Type == core.JoinFullOuter) && j.FromRight == nil {
		return nil, &core.TypeMismatchError{Reason: "right outer windowed join requires a FromRight projection"}
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = &JoinStateMetrics{}
	}

	return core.NewStreamingPipe(ctx, "windowed-join", func(ctx context.Context, emit func(O) error) error {
		state := make(map[windowKey[K]]*windowEntry[L, R])
		var evicted []*windowEntry[L, R] // closed unmatched entries, held for end-of-input outer emission

		emitUnmatched := func(e *windowEntry[L, R]) error {
			if e.hasL && !e.hasR && (j.Type == core.JoinLeftOuter || j.Type == core.JoinFullOuter) {
				if err := emit(j.FromLeft(e.l)); err != nil {
					return err
				}
			}
			if e.hasR && !e.hasL && (j.Type == core.JoinRightOuter || j.Type == core.JoinFullOuter) {
				if err := emit(j.FromRight(e.r)); err != nil {
					return err
				}
			}
			return nil
		}

		closeExpired := func(watermark time.Time) error {
			wmNs := watermark.UnixNano()
			for wk, e := range state {
				if wk.end > wmNs {
					continue
				}
				if j.Type != core.JoinInner {
					evicted = append(evicted, e)
				}
				delete(state, wk)
				metrics.closed.Add(1)
			}
			metrics.setOpen(int64(len(state)))
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

			tagged := si.Value
			switch tagged.Side {
			case core.SideLeft:
				for _, w := range j.Assigner.AssignWindows(si.Timestamp) {
					wk := windowKey[K]{start: w.Start.UnixNano(), end: w.End.UnixNano(), key: j.LeftKey(tagged.Left)}
					e, exists := state[wk]
					if !exists {
						e = &windowEntry[L, R]{}
						state[wk] = e
						metrics.setOpen(int64(len(state)))
					}
					if e.hasR {
						if err := emit(j.Create(tagged.Left, e.r)); err != nil {
							return err
						}
						delete(state, wk)
						metrics.closed.Add(1)
						metrics.setOpen(int64(len(state)))
					} else {
						e.hasL = true
						e.l = tagged.Left
					}
				}
			case core.SideRight:
				for _, w := range j.Assigner.AssignWindows(si.Timestamp) {
					wk := windowKey[K]{start: w.Start.UnixNano(), end: w.End.UnixNano(), key: j.RightKey(tagged.Right)}
					e, exists := state[wk]
					if !exists {
						e = &windowEntry[L, R]{}
						state[wk] = e
						metrics.setOpen(int64(len(state)))
					}
					if e.hasL {
						if err := emit(j.Create(e.l, tagged.Right)); err != nil {
							return err
						}
						delete(state, wk)
						metrics.closed.Add(1)
						metrics.setOpen(int64(len(state)))
					} else {
						e.hasR = true
						e.r = tagged.Right
					}
				}
			}
		}

		for _, e := range evicted {
			if err := emitUnmatched(e); err != nil {
				return err
			}
		}
		for _, e := range state {
			if err := emitUnmatched(e); err != nil {
				return err
			}
			metrics.closed.Add(1)
		}
		return nil
	}), nil
}

func (j *WindowedJoin[L, R, K, O]) Dispose(ctx context.Context) error { return nil }
