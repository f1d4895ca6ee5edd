package depgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aipartnerup/apcore-go/internal/depgraph"
)

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := depgraph.New()
	g.AddEdge("b", "a") // b depends on a
	g.AddEdge("c", "b") // c depends on b

	order, cycle := g.TopologicalSort()
	require.Nil(t, cycle)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalSortDeterministicTieBreak(t *testing.T) {
	g := depgraph.New()
	g.AddNode("z")
	g.AddNode("a")
	g.AddNode("m")

	order, cycle := g.TopologicalSort()
	require.Nil(t, cycle)
	assert.Equal(t, []string{"a", "m", "z"}, order)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := depgraph.New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	order, cycle := g.TopologicalSort()
	assert.Nil(t, order)
	require.NotEmpty(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
}

func TestGetDependenciesAndDependents(t *testing.T) {
	g := depgraph.New()
	g.AddEdge("b", "a")

	assert.Equal(t, []string{"a"}, g.GetDependencies("b"))
	assert.Equal(t, []string{"b"}, g.GetDependents("a"))
}

func TestHasNode(t *testing.T) {
	g := depgraph.New()
	g.AddNode("x")
	assert.True(t, g.HasNode("x"))
	assert.False(t, g.HasNode("y"))
}
