package ops

import (
	"context"
	"errors"

	"github.com/npipeline/flow/core"
)

// ErrDuplicateKeyUnsupported is returned by a KeyedJoin with Strict set when
// a second arrival on one side, for a key still waiting on its match, would
// otherwise be silently dropped under the default first-seen-wins contract.
// Callers needing multi-match semantics should key on a value that is
// unique per expected match instead of relying on this join to fan out.
var ErrDuplicateKeyUnsupported = errors.New("flow/ops: keyed join does not support multiple unmatched records per key")

// KeySelector extracts a join key from a value.
type KeySelector[T any, K comparable] func(T) K

// InnerProjection builds a joined output record from a matched pair.
type InnerProjection[L, R, O any] func(L, R) O

// OuterProjection builds an outer-join output record from an unmatched
// value on one side.
type OuterProjection[T, O any] func(T) O

// KeyedJoin matches left and right items by key for the lifetime of the
// run: an unmatched item waits indefinitely (bounded by MaxCapacity) for a
// counterpart on the other side.
type KeyedJoin[L, R any, K comparable, O any] struct {
	LeftKey     KeySelector[L, K]
	RightKey    KeySelector[R, K]
	Type        core.JoinType
	MaxCapacity int // 0 = unlimited
	Create      InnerProjection[L, R, O]
	FromLeft    OuterProjection[L, O]
	FromRight   OuterProjection[R, O]
	// Strict fails the join with ErrDuplicateKeyUnsupported instead of
	// silently dropping a second unmatched arrival for a key already
	// waiting on its match.
	Strict bool
}

func (j *KeyedJoin[L, R, K, O]) Execute(ctx context.Context, in core.Pipe[core.Tagged[L, R]]) (core.Pipe[O], error) {
	if (j.Type == core.JoinLeftOuter || j.Type == core.JoinFullOuter) && j.FromLeft == nil {
		return nil, &core.TypeMismatchError{Reason: "left outer join requires a FromLeft projection"}
	}
	if (j.Type == core.JoinRightOuter || j.Type == core.JoinFullOuter) && j.FromRight == nil {
		return nil, &core.TypeMismatchError{Reason: "right outer join requires a FromRight projection"}
	}

	return core.NewStreamingPipe(ctx, "keyed-join", func(ctx context.Context, emit func(O) error) error {
		lWaiting := make(map[K]L)
		rWaiting := make(map[K]R)

		for {
			tagged, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			switch tagged.Side {
			case core.SideLeft:
				k := j.LeftKey(tagged.Left)
				if rv, found := rWaiting[k]; found {
					delete(rWaiting, k)
					if err := emit(j.Create(tagged.Left, rv)); err != nil {
						return err
					}
					continue
				}
				if _, exists := lWaiting[k]; exists {
					if j.Strict {
						return ErrDuplicateKeyUnsupported
					}
					continue // first-seen-wins: drop the duplicate
				}
				if j.MaxCapacity <= 0 || len(lWaiting) < j.MaxCapacity {
					lWaiting[k] = tagged.Left
				}
			case core.SideRight:
				k := j.RightKey(tagged.Right)
				if lv, found := lWaiting[k]; found {
					delete(lWaiting, k)
					if err := emit(j.Create(lv, tagged.Right)); err != nil {
						return err
					}
					continue
				}
				if _, exists := rWaiting[k]; exists {
					if j.Strict {
						return ErrDuplicateKeyUnsupported
					}
					continue
				}
				if j.MaxCapacity <= 0 || len(rWaiting) < j.MaxCapacity {
					rWaiting[k] = tagged.Right
				}
			}
		}

		if j.Type == core.JoinLeftOuter || j.Type == core.JoinFullOuter {
			for _, lv := range lWaiting {
				if err := emit(j.FromLeft(lv)); err != nil {
					return err
				}
			}
		}
		if j.Type == core.JoinRightOuter || j.Type == core.JoinFullOuter {
			for _, rv := range rWaiting {
				if err := emit(j.FromRight(rv)); err != nil {
					return err
				}
			}
		}
		return nil
	}), nil
}

func (j *KeyedJoin[L, R, K, O]) Dispose(ctx context.Context) error { return nil }
