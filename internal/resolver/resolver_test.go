package resolver_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/resolver"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func pkg(name, version string, runtime ...string) *pkgmodel.Package {
	p := &pkgmodel.Package{Name: name, Version: version}
	for _, r := range runtime {
		p.Dependencies.Runtime = append(p.Dependencies.Runtime, pkgmodel.DependencySelector{Name: r})
	}
	return p
}

func TestResolveLinearChain(t *testing.T) {
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("a", "1", "b"))
	repo.Add(pkg("b", "1", "c"))
	repo.Add(pkg("c", "1"))

	g, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	a, ok := g.Node(dag.NodeID("a", "1"))
	require.True(t, ok)
	deps := g.DepNodes(a)
	require.Len(t, deps, 1)
	assert.Equal(t, "b@1", deps[0].ID)
}

func TestResolveDiamondSharesSingleNode(t *testing.T) {
	// c -> b -> a, c -> a directly (diamond lower half, S6).
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("c", "1", "b", "a"))
	repo.Add(pkg("b", "1", "a"))
	repo.Add(pkg("a", "1"))

	g, err := resolver.New(repo).Resolve(testContext(), "c", "")
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	c, _ := g.Node(dag.NodeID("c", "1"))
	deps := g.DepNodes(c)
	names := []string{deps[0].Name, deps[1].Name}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestResolveMissingPackage(t *testing.T) {
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("a", "1", "b"))

	_, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.Error(t, err)

	var rerr *resolver.ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, resolver.Missing, rerr.Kind)
}

func TestResolveNoMatchingVersion(t *testing.T) {
	repo := pkgmodel.NewRepository()
	a := pkg("a", "1")
	a.Dependencies.Runtime = []pkgmodel.DependencySelector{{Name: "b", Constraint: "^2.0.0"}}
	repo.Add(a)
	repo.Add(pkg("b", "1"))

	_, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.Error(t, err)

	var rerr *resolver.ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, resolver.NoMatch, rerr.Kind)
}

func TestResolveCycleDetected(t *testing.T) {
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("a", "1", "b"))
	repo.Add(pkg("b", "1", "a"))

	_, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.Error(t, err)

	var rerr *resolver.ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, resolver.Cycle, rerr.Kind)
}

func TestResolvePicksHighestMatchingVersion(t *testing.T) {
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("a", "1", "b"))
	repo.Add(pkg("b", "1"))
	repo.Add(pkg("b", "2"))

	g, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.NoError(t, err)

	_, ok := g.Node(dag.NodeID("b", "2"))
	assert.True(t, ok)
}

func TestResolveDeterministicAcrossRuns(t *testing.T) {
	repo := pkgmodel.NewRepository()
	repo.Add(pkg("a", "1", "c", "b"))
	repo.Add(pkg("b", "1"))
	repo.Add(pkg("c", "1"))

	g1, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.NoError(t, err)
	g2, err := resolver.New(repo).Resolve(testContext(), "a", "")
	require.NoError(t, err)

	out1, err := g1.MarshalJSON()
	require.NoError(t, err)
	out2, err := g2.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}
