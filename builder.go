package flow

import (
	"fmt"

	"github.com/npipeline/flow/core"
	"github.com/npipeline/flow/strategy"
)

// Builder constructs a Graph with a fluent API, the way NewPipelineGraph's
// sibling GraphBuilder does for an untyped pipeline: nodes and edges are
// accumulated, then checked together by Build.
type Builder struct {
	nodes map[string]*CompiledNode
	edges []edgeConfig

	entry string
	exits []string

	teeCapacity   map[string]int
	mergeOverride map[string]mergeOverride

	err error // first error encountered; Build surfaces it
}

type edgeConfig struct {
	from string
	to   string
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:         make(map[string]*CompiledNode),
		teeCapacity:   make(map[string]int),
		mergeOverride: make(map[string]mergeOverride),
	}
}

// AddNode registers a compiled node under its own id.
func (b *Builder) AddNode(n *CompiledNode) *Builder {
	if _, exists := b.nodes[n.id]; exists {
		b.fail(fmt.Errorf("node %q already added", n.id))
		return b
	}
	b.nodes[n.id] = n
	return b
}

// Connect adds a directed edge from one node to another.
func (b *Builder) Connect(from, to string) *Builder {
	b.edges = append(b.edges, edgeConfig{from: from, to: to})
	return b
}

// SetEntry designates the graph's single entry node (must be a Source).
func (b *Builder) SetEntry(id string) *Builder {
	b.entry = id
	return b
}

// AddExit designates id as a terminal node (must be a Sink).
func (b *Builder) AddExit(id string) *Builder {
	b.exits = append(b.exits, id)
	return b
}

// WithTeeCapacity overrides the per-subscriber buffer capacity used when a
// node's output fans out to more than one downstream edge. capacity <= 0
// means unbounded (core.Unbounded); the default when unset is also
// unbounded.
func (b *Builder) WithTeeCapacity(id string, capacity int) *Builder {
	b.teeCapacity[id] = capacity
	return b
}

// WithMergeStrategy overrides the fan-in strategy used to combine multiple
// upstreams feeding an ordinary Transform/StreamTransform/Aggregate/Sink
// node (Join and CustomMerge nodes ignore this; they always combine their
// own way).
func (b *Builder) WithMergeStrategy(id string, kind MergeKind, capacity int) *Builder {
	b.mergeOverride[id] = mergeOverride{kind: kind, capacity: capacity}
	return b
}

// WithBlockingParallelism runs a Transform node over n concurrent workers,
// pausing the upstream pull when the shared queue is full.
func (b *Builder) WithBlockingParallelism(id string, n int) *Builder {
	return b.withParallelism(id, n, strategy.Blocking)
}

// WithDropNewestParallelism is WithBlockingParallelism but discards the
// arriving item instead of pausing the upstream when the queue is full.
func (b *Builder) WithDropNewestParallelism(id string, n int) *Builder {
	return b.withParallelism(id, n, strategy.DropNewest)
}

// WithDropOldestParallelism is WithBlockingParallelism but evicts the
// queue's oldest pending item to make room instead of pausing or dropping
// the new arrival.
func (b *Builder) WithDropOldestParallelism(id string, n int) *Builder {
	return b.withParallelism(id, n, strategy.DropOldest)
}

func (b *Builder) withParallelism(id string, n int, policy strategy.BackpressurePolicy) *Builder {
	n2, ok := b.transformNode(id)
	if !ok {
		return b
	}
	n2.strategyCfg.mode = ModeParallel
	n2.strategyCfg.parallelism = n
	n2.strategyCfg.policy = policy
	return b
}

// WithResilience wraps a Transform node's Execute in Skip/Retry/Fail
// handling driven by handler, retrying up to maxRetries times before
// treating an item as a hard failure. maxRetries only applies while handler
// answers Retry. A nil handler uses core.DefaultErrorHandler, which fails
// every item on its first error without retrying.
func (b *Builder) WithResilience(id string, handler core.ErrorHandler, maxRetries int) *Builder {
	n, ok := b.transformNode(id)
	if !ok {
		return b
	}
	n.strategyCfg.resilient = true
	n.strategyCfg.errorHandler = handler
	n.strategyCfg.maxRetries = maxRetries
	return b
}

func (b *Builder) transformNode(id string) (*CompiledNode, bool) {
	n, exists := b.nodes[id]
	if !exists {
		b.fail(fmt.Errorf("node %q not added to builder", id))
		return nil, false
	}
	if n.kind != KindTransform {
		b.fail(fmt.Errorf("node %q is not a Transform node", id))
		return nil, false
	}
	return n, true
}

// WithRestart marks id as safe for the runner's PipelineErrorHandler to
// answer RestartNode to. Only a Source node qualifies: restarting means
// calling Initialize again for a fresh Pipe, which is well-defined because a
// Source takes no upstream input; every other node kind would have to
// replay a Pipe that may already be partially drained, which isn't safe in
// general. Run falls back to ContinueWithoutNode for a RestartNode decision
// on a node not marked here, or once restart attempts are exhausted.
func (b *Builder) WithRestart(id string) *Builder {
	n, exists := b.nodes[id]
	if !exists {
		b.fail(fmt.Errorf("node %q not added to builder", id))
		return b
	}
	if n.kind != KindSource {
		b.fail(fmt.Errorf("node %q is not a Source node: only a Source can be safely restarted", id))
		return b
	}
	n.restartable = true
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build assembles and validates the accumulated nodes and edges into a
// Graph, applying every WithXxx option recorded against each node's
// CompiledNode along the way.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, &core.GraphValidationError{Message: "graph must have at least one node"}
	}
	if b.entry == "" {
		return nil, &core.GraphValidationError{Message: "entry node must be set"}
	}
	if len(b.exits) == 0 {
		return nil, &core.GraphValidationError{Message: "at least one exit node must be set"}
	}

	g := newGraph()
	for id, n := range b.nodes {
		g.nodes[id] = n
	}
	for _, e := range b.edges {
		if _, exists := g.nodes[e.from]; !exists {
			return nil, &core.GraphValidationError{Message: "edge references unknown node", Details: e.from}
		}
		if _, exists := g.nodes[e.to]; !exists {
			return nil, &core.GraphValidationError{Message: "edge references unknown node", Details: e.to}
		}
		ed := &edge{from: e.from, to: e.to}
		g.edges[e.from] = append(g.edges[e.from], ed)
		g.order = append(g.order, ed)
	}
	g.entry = b.entry
	g.exits = append([]string(nil), b.exits...)
	for id, capacity := range b.teeCapacity {
		g.teeCapacity[id] = capacity
		g.nodes[id].teeCapacity = capacity
	}
	for id, ov := range b.mergeOverride {
		g.mergeOverride[id] = ov
		g.nodes[id].mergeKind = ov.kind
		g.nodes[id].mergeCapacity = ov.capacity
	}

	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}
