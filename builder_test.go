package flow

import (
	"context"
	"testing"

	"github.com/npipeline/flow/core"
	"github.com/stretchr/testify/assert"
)

type intSource struct{ items []int }

func (s *intSource) Initialize(ctx context.Context) (core.Pipe[int], error) {
	return core.NewMaterializedPipe(s.items, "int-source"), nil
}
func (s *intSource) Dispose(ctx context.Context) error { return nil }

type doublerTransform struct{}

func (doublerTransform) Execute(ctx context.Context, item int) (int, error) { return item * 2, nil }
func (doublerTransform) Dispose(ctx context.Context) error                 { return nil }

type stringifyTransform struct{}

func (stringifyTransform) Execute(ctx context.Context, item int) (string, error) {
	return "", nil
}
func (stringifyTransform) Dispose(ctx context.Context) error { return nil }

type collectSink struct{ items []int }

func (s *collectSink) Execute(ctx context.Context, in core.Pipe[int]) error {
	got, err := core.Collect(ctx, in)
	s.items = got
	return err
}
func (s *collectSink) Dispose(ctx context.Context) error { return nil }

func TestBuildRejectsMissingEntry(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1}}))
	b.AddNode(Sink[int]("sink", &collectSink{}))
	b.Connect("src", "sink")
	b.AddExit("sink")

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsEntryNotSource(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1}}))
	b.AddNode(Sink[int]("sink", &collectSink{}))
	b.Connect("src", "sink")
	b.SetEntry("sink") // a Sink, not a Source
	b.AddExit("sink")

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsUnreachableNode(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1}}))
	b.AddNode(Sink[int]("sink", &collectSink{}))
	b.AddNode(Transform[int, int]("orphan", doublerTransform{}))
	b.Connect("src", "sink")
	b.SetEntry("src")
	b.AddExit("sink")

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsCycle(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1}}))
	b.AddNode(Transform[int, int]("a", doublerTransform{}))
	b.AddNode(Transform[int, int]("b", doublerTransform{}))
	b.AddNode(Sink[int]("sink", &collectSink{}))
	b.Connect("src", "a")
	b.Connect("a", "b")
	b.Connect("b", "a") // cycle
	b.Connect("b", "sink")
	b.SetEntry("src")
	b.AddExit("sink")

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsTypeMismatch(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1}}))
	b.AddNode(Sink[string]("sink", &stringSink{}))
	b.Connect("src", "sink")
	b.SetEntry("src")
	b.AddExit("sink")

	_, err := b.Build()
	assert.Error(t, err)
}

type stringSink struct{ items []string }

func (s *stringSink) Execute(ctx context.Context, in core.Pipe[string]) error {
	got, err := core.Collect(ctx, in)
	s.items = got
	return err
}
func (s *stringSink) Dispose(ctx context.Context) error { return nil }

func TestBuildAcceptsValidLinearGraph(t *testing.T) {
	b := NewBuilder()
	b.AddNode(Source[int]("src", &intSource{items: []int{1, 2, 3}}))
	b.AddNode(Transform[int, int]("double", doublerTransform{}))
	b.AddNode(Sink[int]("sink", &collectSink{}))
	b.Connect("src", "double")
	b.Connect("double", "sink")
	b.SetEntry("src")
	b.AddExit("sink")

	g, err := b.Build()
	assert.NoError(t, err)
	assert.NotNil(t, g)
	assert.Equal(t, "src", g.Entry())
	assert.Equal(t, []string{"sink"}, g.Exits())
}
