package stategraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runState struct {
	visited []string
	waiting bool
}

func TestGraph_LinearRun(t *testing.T) {
	record := func(name string) NodeFunc[*runState] {
		return func(_ context.Context, s *runState) error {
			s.visited = append(s.visited, name)
			return nil
		}
	}

	graph := New[*runState]().
		AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddNode("c", record("c")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", "c")

	state := &runState{}
	require.NoError(t, graph.Run(context.Background(), state))
	assert.Equal(t, []string{"a", "b", "c"}, state.visited)
}

func TestGraph_ConditionalSuspension(t *testing.T) {
	graph := New[*runState]().
		AddNode("ask", func(_ context.Context, s *runState) error {
			s.visited = append(s.visited, "ask")
			s.waiting = true
			return nil
		}).
		AddNode("answer", func(_ context.Context, s *runState) error {
			s.visited = append(s.visited, "answer")
			return nil
		}).
		SetEntry("ask").
		AddConditionalEdge("ask", func(s *runState) string {
			if s.waiting {
				return End
			}
			return "answer"
		})

	state := &runState{}
	require.NoError(t, graph.Run(context.Background(), state))
	assert.Equal(t, []string{"ask"}, state.visited)

	// Resume after the suspension was resolved.
	state.waiting = false
	require.NoError(t, graph.RunFrom(context.Background(), "answer", state))
	assert.Equal(t, []string{"ask", "answer"}, state.visited)
}

func TestGraph_NodeErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	graph := New[*runState]().
		AddNode("a", func(_ context.Context, s *runState) error {
			s.visited = append(s.visited, "a")
			return boom
		}).
		AddNode("b", func(_ context.Context, s *runState) error {
			s.visited = append(s.visited, "b")
			return nil
		}).
		SetEntry("a").
		AddEdge("a", "b")

	state := &runState{}
	err := graph.Run(context.Background(), state)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, state.visited)
}

func TestGraph_UnknownNode(t *testing.T) {
	graph := New[*runState]().SetEntry("missing")
	err := graph.Run(context.Background(), &runState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no node")
}

func TestGraph_CycleGuard(t *testing.T) {
	graph := New[*runState]().
		AddNode("loop", func(_ context.Context, _ *runState) error { return nil }).
		SetEntry("loop").
		AddEdge("loop", "loop")

	err := graph.Run(context.Background(), &runState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}
