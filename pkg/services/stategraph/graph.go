// Package stategraph is a small deterministic state-graph runtime: named
// nodes mutate a shared state, edges (fixed or routed) pick the next node,
// and a run ends when a route reaches End. Suspension is expressed by a
// router returning End while the state carries a waiting status; resuming is
// just another Run starting at the right node.
package stategraph

import (
	"context"
	"fmt"
)

// End is the terminal route target.
const End = "__end__"

// defaultMaxSteps guards against routing cycles.
const defaultMaxSteps = 64

// NodeFunc mutates the state. An error aborts the run.
type NodeFunc[S any] func(ctx context.Context, state S) error

// RouterFunc inspects the state after a node ran and names the next node, or
// End to stop.
type RouterFunc[S any] func(state S) string

// Graph is an immutable-after-build node graph over a state type.
type Graph[S any] struct {
	nodes    map[string]NodeFunc[S]
	edges    map[string]string
	routers  map[string]RouterFunc[S]
	entry    string
	maxSteps int
}

// New creates an empty graph.
func New[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:    map[string]NodeFunc[S]{},
		edges:    map[string]string{},
		routers:  map[string]RouterFunc[S]{},
		maxSteps: defaultMaxSteps,
	}
}

// AddNode registers a named node.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	g.nodes[name] = fn
	return g
}

// SetEntry names the default start node.
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdge routes the successor of from through a router func.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	g.routers[from] = router
	return g
}

func (g *Graph[S]) next(name string, state S) (string, error) {
	if router, ok := g.routers[name]; ok {
		return router(state), nil
	}
	if to, ok := g.edges[name]; ok {
		return to, nil
	}
	return End, nil
}

// Run executes the graph from the entry node.
func (g *Graph[S]) Run(ctx context.Context, state S) error {
	return g.RunFrom(ctx, g.entry, state)
}

// RunFrom executes the graph starting at the named node. Used to resume a
// suspended run at the node that asked the question.
func (g *Graph[S]) RunFrom(ctx context.Context, start string, state S) error {
	current := start
	for steps := 0; current != End; steps++ {
		if steps >= g.maxSteps {
			return fmt.Errorf("state graph exceeded %d steps at node %q", g.maxSteps, current)
		}
		node, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("state graph has no node %q", current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := node(ctx, state); err != nil {
			return err
		}
		next, err := g.next(current, state)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}
