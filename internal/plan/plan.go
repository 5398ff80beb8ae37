// Package plan derives the topologically ordered build sequence from a
// resolved dag.Graph and serializes it for storage on the submit. It is a
// thin structural sibling of internal/dag, following the same arena+index
// design note for deterministic output.
package plan

import (
	"encoding/json"
	"sort"

	"github.com/vk/forgegrid/internal/dag"
)

// Plan is the topologically ordered sequence of job ids derived from a
// dag.Graph: every job a job depends on appears at an earlier index, so
// the job at index i may only start once those earlier jobs have
// succeeded.
type Plan struct {
	Order []string
}

// Build performs a Kahn's-algorithm topological sort over g. Ties (nodes
// simultaneously ready) are broken by ascending node id, so the same
// graph always yields the same plan (P1).
func Build(g *dag.Graph) (*Plan, error) {
	nodes := g.Nodes()
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(n.Deps)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		n, _ := g.Node(id)
		for _, dependent := range g.DependentNodes(n) {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				ready = append(ready, dependent.ID)
			}
		}
	}

	if len(order) != len(nodes) {
		if err := g.DetectCycles(); err != nil {
			return nil, err
		}
	}

	return &Plan{Order: order}, nil
}

// MarshalJSON renders the plan as its ordered id list.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Order)
}
