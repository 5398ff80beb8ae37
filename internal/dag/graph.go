// Package dag is the resolved package job graph: one Node per (name,
// version) pair the resolver decided to build, linked by dependency
// edges. It generalizes the teacher's internal/dag/dag.go node/edge maps
// from HCL step/resource nodes to package jobs, and follows the arena +
// index design the teacher's own graph favors: nodes live in a single
// slice, edges are index pairs, so there is no cyclic pointer ownership
// and serialization can walk the arena in a single deterministic pass.
package dag

import (
	"encoding/json"
	"fmt"

	"github.com/vk/forgegrid/internal/pkgmodel"
)

// EdgeKind distinguishes a scheduling-only dependency from one whose
// artifact also propagates transitively to further downstreams.
type EdgeKind int

const (
	// EdgeBuild gates scheduling order only.
	EdgeBuild EdgeKind = iota
	// EdgeRuntime gates scheduling order and propagates its artifact
	// transitively into every downstream's input set.
	EdgeRuntime
)

// Edge is one upstream dependency of a Node, recorded by arena index.
type Edge struct {
	Index int
	Kind  EdgeKind
}

// Node is one vertex in the graph: a resolved package build job.
type Node struct {
	index int

	ID      string // "name@version"
	Name    string
	Version string
	Package *pkgmodel.Package

	// Deps holds this node's upstream edges (build-before relationships).
	// Dependents holds arena indices of downstream nodes that depend on
	// this one; per the arena+index design neither holds pointers, so
	// there is no cyclic ownership between nodes.
	Deps       []Edge
	Dependents []int
}

// Graph is the arena of Nodes plus an id-to-index lookup.
type Graph struct {
	nodes []*Node
	index map[string]int
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode inserts a new node for (name, version) and returns it. It is an
// error to add the same id twice: invariant I1 says a submit has at most
// one job per (name, version).
func (g *Graph) AddNode(name, version string, pkg *pkgmodel.Package) (*Node, error) {
	id := NodeID(name, version)
	if _, exists := g.index[id]; exists {
		return nil, fmt.Errorf("dag: duplicate node %s", id)
	}
	n := &Node{
		index:   len(g.nodes),
		ID:      id,
		Name:    name,
		Version: version,
		Package: pkg,
	}
	g.nodes = append(g.nodes, n)
	g.index[id] = n.index
	return n, nil
}

// NodeID derives the arena key for a (name, version) pair.
func NodeID(name, version string) string {
	return name + "@" + version
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns every node in arena (insertion) order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddEdge records that toID depends on fromID: fromID must build and
// succeed before toID may start. kind determines whether fromID's
// artifact also propagates transitively past toID to toID's own
// dependents.
func (g *Graph) AddEdge(fromID, toID string, kind EdgeKind) error {
	if fromID == toID {
		return fmt.Errorf("dag: self-referential edge not allowed: %s", fromID)
	}
	fromIdx, ok := g.index[fromID]
	if !ok {
		return fmt.Errorf("dag: source node not found: %s", fromID)
	}
	toIdx, ok := g.index[toID]
	if !ok {
		return fmt.Errorf("dag: destination node not found: %s", toID)
	}
	to := g.nodes[toIdx]
	from := g.nodes[fromIdx]
	to.Deps = append(to.Deps, Edge{Index: fromIdx, Kind: kind})
	from.Dependents = append(from.Dependents, toIdx)
	return nil
}

// DepNodes returns all of n's upstream nodes, regardless of edge kind.
func (g *Graph) DepNodes(n *Node) []*Node {
	out := make([]*Node, len(n.Deps))
	for i, e := range n.Deps {
		out[i] = g.nodes[e.Index]
	}
	return out
}

// RuntimeDepNodes returns only n's runtime-kind upstream nodes, the ones
// whose artifacts must propagate past n to its own dependents.
func (g *Graph) RuntimeDepNodes(n *Node) []*Node {
	var out []*Node
	for _, e := range n.Deps {
		if e.Kind == EdgeRuntime {
			out = append(out, g.nodes[e.Index])
		}
	}
	return out
}

// DependentNodes returns n's downstream nodes.
func (g *Graph) DependentNodes(n *Node) []*Node {
	out := make([]*Node, len(n.Dependents))
	for i, idx := range n.Dependents {
		out[i] = g.nodes[idx]
	}
	return out
}

// DetectCycles performs a DFS over the dependents direction and returns an
// error naming the first node found to be part of a cycle.
func (g *Graph) DetectCycles() error {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))

	var visit func(i int) error
	visit = func(i int) error {
		color[i] = gray
		for _, dep := range g.nodes[i].Dependents {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dag: cycle detected involving %q", g.nodes[dep].ID)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}

	for i := range g.nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// jsonNode is the deterministic, human-legible wire form of a Node: edges
// are rendered by id rather than by arena index, since the arena itself is
// an implementation detail not meant to survive serialization.
type jsonNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Deps        []string `json:"deps"`
	RuntimeDeps []string `json:"runtime_deps"`
}

// MarshalJSON walks the arena in index order, which is insertion order,
// giving a stable serialization for the same sequence of AddNode calls.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := make([]jsonNode, len(g.nodes))
	for i, n := range g.nodes {
		deps := make([]string, len(n.Deps))
		var runtimeDeps []string
		for j, e := range n.Deps {
			deps[j] = g.nodes[e.Index].ID
			if e.Kind == EdgeRuntime {
				runtimeDeps = append(runtimeDeps, g.nodes[e.Index].ID)
			}
		}
		out[i] = jsonNode{ID: n.ID, Name: n.Name, Version: n.Version, Deps: deps, RuntimeDeps: runtimeDeps}
	}
	return json.Marshal(out)
}
