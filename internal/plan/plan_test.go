package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/plan"
)

func buildChain(t *testing.T) *dag.Graph {
	t.Helper()
	g := dag.New()
	_, err := g.AddNode("a", "1", nil)
	require.NoError(t, err)
	_, err = g.AddNode("b", "1", nil)
	require.NoError(t, err)
	_, err = g.AddNode("c", "1", nil)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(dag.NodeID("b", "1"), dag.NodeID("a", "1"), dag.EdgeRuntime))
	require.NoError(t, g.AddEdge(dag.NodeID("c", "1"), dag.NodeID("b", "1"), dag.EdgeRuntime))
	return g
}

func TestBuildOrdersLeafFirst(t *testing.T) {
	g := buildChain(t)
	p, err := plan.Build(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"c@1", "b@1", "a@1"}, p.Order)
}

func TestBuildIsDeterministicForIndependentNodes(t *testing.T) {
	g := dag.New()
	_, err := g.AddNode("z", "1", nil)
	require.NoError(t, err)
	_, err = g.AddNode("a", "1", nil)
	require.NoError(t, err)
	_, err = g.AddNode("m", "1", nil)
	require.NoError(t, err)

	p, err := plan.Build(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@1", "m@1", "z@1"}, p.Order)
}
