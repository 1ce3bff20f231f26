package ops_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/ops"
	"github.com/npipeline/flow/window"
	"github.com/stretchr/testify/assert"
)

func TestKeyedJoinInnerMatchesByKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type L struct {
		ID   string
		Name string
	}
	type R struct {
		ID  string
		Age int
	}
	type O struct {
		Name string
		Age  int
	}

	left := core.NewMaterializedPipe([]L{{ID: "a", Name: "alice"}, {ID: "b", Name: "bob"}}, "left")
	right := core.NewMaterializedPipe([]R{{ID: "b", Age: 30}, {ID: "a", Age: 25}}, "right")
	tagged := core.TagJoinInputs[L, R](ctx, left, right, "tagged")

	j := &ops.KeyedJoin[L, R, string, O]{
		LeftKey:  func(l L) string { return l.ID },
		RightKey: func(r R) string { return r.ID },
		Type:     core.JoinInner,
		Create:   func(l L, r R) O { return O{Name: l.Name, Age: r.Age} },
	}
	out, err := j.Execute(ctx, tagged)
	assert.NoError(t, err)

	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Len(t, got, 2)

	byName := map[string]int{}
	for _, o := range got {
		byName[o.Name] = o.Age
	}
	assert.Equal(t, 25, byName["alice"])
	assert.Equal(t, 30, byName["bob"])
}

func TestKeyedJoinFirstSeenWinsOnDuplicateKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	left := core.NewMaterializedPipe([]string{"x1", "x2"}, "left") // both key "x"
	right := core.NewMaterializedPipe([]string{"y"}, "right")
	tagged := core.TagJoinInputs[string, string](ctx, left, right, "tagged")

	j := &ops.KeyedJoin[string, string, string, string]{
		LeftKey:  func(s string) string { return "x" },
		RightKey: func(s string) string { return "x" },
		Type:     core.JoinInner,
		Create:   func(l, r string) string { return l + "+" + r },
	}
	out, err := j.Execute(ctx, tagged)
	assert.NoError(t, err)
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Equal(t, []string{"x1+y"}, got)
}

func TestKeyedJoinStrictFailsOnDuplicateKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	left := core.NewMaterializedPipe([]string{"x1", "x2"}, "left") // both key "x"
	right := core.NewMaterializedPipe([]string{}, "right")
	tagged := core.TagJoinInputs[string, string](ctx, left, right, "tagged")

	j := &ops.KeyedJoin[string, string, string, string]{
		LeftKey:  func(s string) string { return "x" },
		RightKey: func(s string) string { return "x" },
		Type:     core.JoinInner,
		Create:   func(l, r string) string { return l + "+" + r },
		Strict:   true,
	}
	out, err := j.Execute(ctx, tagged)
	assert.NoError(t, err)
	_, err = core.Collect(ctx, out)
	assert.ErrorIs(t, err, ops.ErrDuplicateKeyUnsupported)
}

func TestAggregateEmitsOnWatermarkPerWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type reading struct {
		key string
		val int
		ts  time.Time
	}
	base := time.Unix(0, 0)
	items := []core.StreamItem[reading]{
		core.Data(reading{key: "a", val: 1, ts: base}, base),
		core.Data(reading{key: "a", val: 2, ts: base.Add(1 * time.Second)}, base.Add(1*time.Second)),
		core.Watermark[reading](base.Add(10 * time.Second)),
		core.Data(reading{key: "a", val: 3, ts: base.Add(11 * time.Second)}, base.Add(11*time.Second)),
		core.Watermark[reading](base.Add(20 * time.Second)),
	}
	in := core.NewMaterializedPipe(items, "in")

	agg := ops.SimpleAggregate[reading, string, int](
		func(r reading) string { return r.key },
		func() int { return 0 },
		func(acc int, r reading) int { return acc + r.val },
		window.Tumbling(10*time.Second),
	)
	out, err := agg.Execute(ctx, in)
	assert.NoError(t, err)
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Value) // 1+2 in window [0,10)
	assert.Equal(t, 3, got[1].Value) // 3 in window [10,20)
}

func TestBranchDeliversCopyToSideHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	collector := &collectingSink{}
	b := ops.NewBranch[int]("branch", ops.LogAndContinue, nil)
	assert.NoError(t, b.Register(collector))

	in := core.NewMaterializedPipe([]int{1, 2, 3}, "in")
	out, err := b.Execute(ctx, in)
	assert.NoError(t, err)
	got, err := core.Collect(ctx, out)
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	collector.mu.Lock()
	seen := append([]int(nil), collector.items...)
	collector.mu.Unlock()
	sort.Ints(seen)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

type collectingSink struct {
	mu    sync.Mutex
	items []int
}

func (s *collectingSink) Execute(ctx context.Context, in core.Pipe[int]) error {
	item, ok, err := in.Next(ctx)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return nil
}

func (s *collectingSink) Dispose(ctx context.Context) error { return nil }
