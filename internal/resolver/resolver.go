// Package resolver performs the memoized depth-first expansion of a
// package repository into a resolved dag.Graph, per spec.md §4.2: a
// (name, resolved-version) pair is visited at most once per submit,
// cycles and unsatisfiable constraints are reported as ResolveError, and
// sibling edges are ordered deterministically so the same repository
// always yields the same graph. Generalized from the teacher's
// internal/dag.Build two-pass node-then-edge construction.
package resolver

import (
	"context"
	"sort"

	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/semverconstraint"
)

// Resolver expands a root (name, constraint) selector against a loaded
// repository into a package job graph.
type Resolver struct {
	repo *pkgmodel.Repository
}

// New returns a Resolver backed by repo.
func New(repo *pkgmodel.Repository) *Resolver {
	return &Resolver{repo: repo}
}

type depEdge struct {
	name       string
	constraint string
	kind       dag.EdgeKind
}

// Resolve expands rootName/rootConstraint into a complete dag.Graph. Only
// one version of rootName (and of any transitively required name) is
// ever resolved within one call, per the Open Question decision that a
// submit resolves one version per package name.
func (r *Resolver) Resolve(ctx context.Context, rootName, rootConstraint string) (*dag.Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := dag.New()

	resolvedVersion := make(map[string]string)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(name, constraint string) (string, error)
	visit = func(name, constraint string) (string, error) {
		if onStack[name] {
			path := append(append([]string{}, stack...), name)
			return "", &ResolveError{Kind: Cycle, Path: path}
		}
		if v, ok := resolvedVersion[name]; ok {
			return v, nil
		}

		candidates := r.repo.Candidates(name)
		if len(candidates) == 0 {
			return "", &ResolveError{Kind: Missing, Name: name}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return semverconstraint.Compare(candidates[i].Version, candidates[j].Version) < 0
		})

		c, err := semverconstraint.Parse(constraint)
		if err != nil {
			return "", err
		}
		var chosen *pkgmodel.Package
		for i := len(candidates) - 1; i >= 0; i-- {
			if c.Matches(candidates[i].Version) {
				chosen = candidates[i]
				break
			}
		}
		if chosen == nil {
			return "", &ResolveError{Kind: NoMatch, Name: name, Constraint: constraint}
		}

		resolvedVersion[name] = chosen.Version
		onStack[name] = true
		stack = append(stack, name)
		defer func() {
			onStack[name] = false
			stack = stack[:len(stack)-1]
		}()

		if _, err := g.AddNode(name, chosen.Version, chosen); err != nil {
			return "", err
		}
		logger.Debug("resolver: resolved package", "name", name, "version", chosen.Version)

		var deps []depEdge
		for _, d := range chosen.Dependencies.Build {
			deps = append(deps, depEdge{name: d.Name, constraint: d.Constraint, kind: dag.EdgeBuild})
		}
		for _, d := range chosen.Dependencies.Runtime {
			deps = append(deps, depEdge{name: d.Name, constraint: d.Constraint, kind: dag.EdgeRuntime})
		}
		sort.SliceStable(deps, func(i, j int) bool {
			if deps[i].name != deps[j].name {
				return deps[i].name < deps[j].name
			}
			return deps[i].constraint < deps[j].constraint
		})

		for _, d := range deps {
			depVersion, err := visit(d.name, d.constraint)
			if err != nil {
				return "", err
			}
			if err := g.AddEdge(dag.NodeID(d.name, depVersion), dag.NodeID(name, chosen.Version), d.kind); err != nil {
				return "", err
			}
		}

		return chosen.Version, nil
	}

	if _, err := visit(rootName, rootConstraint); err != nil {
		return nil, err
	}
	if err := g.DetectCycles(); err != nil {
		return nil, &ResolveError{Kind: Cycle, Path: []string{err.Error()}}
	}

	logger.Info("resolver: graph resolved", "nodes", g.Len())
	return g, nil
}
