package resolver

import (
	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/graph"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// Input is one concretization request.
type Input struct {
	Specs []*spec.Spec
	// Installed are concrete specs that may be reused when the policy allows
	// reuse.
	Installed []*spec.Node
	// Unify overrides the policy's unification mode when set.
	Unify config.UnifyMode
}

// Plan is the result of a successful resolution.
type Plan struct {
	// Graph holds every concrete node; roots shared between specs appear
	// once.
	Graph *graph.Graph
	// Roots holds the concrete root of each requested spec, in request
	// order.
	Roots       []*spec.Node
	Diagnostics Diagnostics
}

// Document returns the plan's graph in serializable form. Roots holds one
// hash per requested spec, in request order, so a hash may repeat.
func (p Plan) Document() graph.Document {
	doc := p.Graph.Document()
	doc.Roots = make([]string, len(p.Roots))
	for i, r := range p.Roots {
		doc.Roots[i] = r.Hash()
	}
	return doc
}

// Diagnostics captures information about how a plan was found.
//
// This is useful for logging and for the CLI's verbose output.
type Diagnostics struct {
	RequestID string
	Unify     config.UnifyMode
	Solves    []Solve
	// Separate lists the specs that when_possible could not unify with the
	// ones before them.
	Separate []string
}

// Solve describes one solver run.
type Solve struct {
	Specs     []string
	Nodes     int
	Variables int
	Clauses   int
	Cost      []int
	Optimal   bool
	Stats     solver.Stats
}
