package flow

import (
	"fmt"
	"reflect"

	"github.com/npipeline/flow/core"
)

// Validate performs structural and type checks on g before any node runs:
// entry/exit existence, cycle freedom, reachability from some Source node, and
// per-edge type compatibility between each producer's declared output and
// each consumer's declared input(s).
func Validate(g *Graph) error {
	if _, exists := g.nodes[g.entry]; !exists {
		return &core.GraphValidationError{Message: "graph validation failed", Details: "entry node does not exist"}
	}
	if g.nodes[g.entry].kind != KindSource {
		return &core.GraphValidationError{Message: "graph validation failed", Details: fmt.Sprintf("entry node %q is not a Source", g.entry)}
	}
	for _, id := range g.exits {
		n, exists := g.nodes[id]
		if !exists {
			return &core.GraphValidationError{Message: "graph validation failed", Details: fmt.Sprintf("exit node %q does not exist", id)}
		}
		if n.kind != KindSink {
			return &core.GraphValidationError{Message: "graph validation failed", Details: fmt.Sprintf("exit node %q is not a Sink", id)}
		}
	}

	if err := detectCycles(g); err != nil {
		return err
	}
	if err := checkReachability(g); err != nil {
		return err
	}
	if err := validateTypeCompatibility(g); err != nil {
		return err
	}
	return nil
}

func detectCycles(g *Graph) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		for _, e := range g.edges[id] {
			switch state[e.to] {
			case visiting:
				return &core.GraphValidationError{Message: "graph validation failed", Details: "cycle detected in graph"}
			case unvisited:
				if err := visit(e.to); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}
	for id := range g.nodes {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkReachability requires every node to be reachable from SOME Source
// node, not only the designated entry: a Join or WatermarkJoin node is fed
// by two independent Source-rooted chains, each self-sufficient (a Source
// mints its own pipe with no external input), so graph connectivity is
// defined by the union of all sources rather than by a single entry point.
// Entry still names the node Validate requires to exist and be a Source;
// it is the conventional "primary" input the graph's caller thinks of
// first, not the sole reachability root.
func checkReachability(g *Graph) error {
	reachable := make(map[string]bool, len(g.nodes))
	var visit func(id string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, e := range g.edges[id] {
			visit(e.to)
		}
	}
	for id, n := range g.nodes {
		if n.kind == KindSource {
			visit(id)
		}
	}
	for id := range g.nodes {
		if !reachable[id] {
			return &core.GraphValidationError{Message: "graph validation failed", Details: fmt.Sprintf("node %q is unreachable from any source node", id)}
		}
	}
	return nil
}

func validateTypeCompatibility(g *Graph) error {
	for from, edges := range g.edges {
		fromNode := g.nodes[from]
		for _, e := range edges {
			toNode := g.nodes[e.to]
			if !acceptsInput(toNode, fromNode.outputType) {
				return &core.GraphValidationError{
					Message: "graph validation failed",
					Details: fmt.Sprintf("node %q output %v is not accepted by node %q inputs %v", from, fromNode.outputType, e.to, toNode.inputTypes),
				}
			}
		}
	}
	return nil
}

// acceptsInput reports whether outputType matches one of to's declared
// input slots. Join/WatermarkJoin nodes declare two distinct slots (left,
// right); an edge matching either is accepted here, with slot assignment
// resolved again at run time once all of a join's upstreams are known.
// A node with multiple incoming edges of its own declared input type (an
// ordinary Transform/StreamTransform/Aggregate/Sink fed by several
// upstreams) is merged, not slot-matched, so any number of edges carrying
// that one type are accepted.
func acceptsInput(to *CompiledNode, outputType reflect.Type) bool {
	for _, t := range to.inputTypes {
		if t == outputType {
			return true
		}
	}
	return false
}
