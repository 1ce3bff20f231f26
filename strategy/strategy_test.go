package strategy_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/strategy"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type doubler struct{}

func (doubler) Execute(ctx context.Context, item int) (int, error) { return item * 2, nil }
func (doubler) Dispose(ctx context.Context) error                  { return nil }

// Sequential preserves input order exactly.
func TestPropertySequentialPreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		items := rapid.SliceOf(rapid.IntRange(-100, 100)).Draw(rt, "items")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		in := core.NewMaterializedPipe(items, "in")
		out := strategy.Sequential[int, int](ctx, doubler{}, in, "double")
		got, err := core.Collect(ctx, out)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(got) != len(items) {
			rt.Fatalf("expected %d results, got %d", len(items), len(got))
		}
		for i, v := range items {
			if got[i] != v*2 {
				rt.Fatalf("index %d: expected %d, got %d", i, v*2, got[i])
			}
		}
	})
}

// Parallel delivers every item exactly once, regardless of completion order.
func TestPropertyParallelDeliversEveryItemExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(rt, "item-count")
		workers := rapid.IntRange(1, 8).Draw(rt, "workers")
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		in := core.NewMaterializedPipe(items, "in")
		out := strategy.Parallel[int, int](ctx, doubler{}, in, workers, strategy.Blocking, "double")
		got, err := core.Collect(ctx, out)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(got) != n {
			rt.Fatalf("expected %d results, got %d", n, len(got))
		}
		sort.Ints(got)
		for i, v := range got {
			if v != i*2 {
				rt.Fatalf("missing or duplicate result at position %d: %d", i, v)
			}
		}
	})
}

func TestBatchingFlushesOnSize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := core.NewMaterializedPipe([]int{1, 2, 3, 4, 5}, "in")
	out := strategy.Batching[int](ctx, in, 2, 0, "batch")
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
}

func TestUnbatchingFlattensInOrder(t *testing.T) {
	ctx := context.Background()
	in := core.NewMaterializedPipe([][]int{{1, 2}, {3}, {4, 5, 6}}, "in")
	out := strategy.Unbatching[int](ctx, in, "unbatch")
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
}

type flakyOnce struct{ failed bool }

func (f *flakyOnce) Execute(ctx context.Context, item int) (int, error) {
	if !f.failed {
		f.failed = true
		return 0, errors.New("transient")
	}
	return item, nil
}
func (f *flakyOnce) Dispose(ctx context.Context) error { return nil }

func TestResilientTransformRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handler := core.ErrorHandlerFunc(func(ctx context.Context, nodeID string, item any, err error) core.ItemDecision {
		return core.Retry
	})
	tf := strategy.ResilientTransform[int, int](&flakyOnce{}, handler, "node", 3)

	in := core.NewMaterializedPipe([]int{7}, "in")
	out := strategy.Sequential[int, int](ctx, tf, in, "resilient")
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Equal(t, []int{7}, got)
}

type alwaysFails struct{}

func (alwaysFails) Execute(ctx context.Context, item int) (int, error) {
	return 0, errors.New("boom")
}
func (alwaysFails) Dispose(ctx context.Context) error { return nil }

func TestResilientTransformSkipDropsItem(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handler := core.ErrorHandlerFunc(func(ctx context.Context, nodeID string, item any, err error) core.ItemDecision {
		return core.Skip
	})
	tf := strategy.ResilientTransform[int, int](alwaysFails{}, handler, "node", 0)

	in := core.NewMaterializedPipe([]int{1, 2, 3}, "in")
	out := strategy.Sequential[int, int](ctx, tf, in, "resilient")
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Empty(t, got)
}
