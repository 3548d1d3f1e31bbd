// Package compile turns abstract requests, package recipes and policy into a
// solver.Problem.
//
// Compilation has two phases. Expansion walks dependency declarations from
// the requested roots to a fixpoint and fixes the set of possible nodes,
// their attribute domains and the rules that might apply to each. Encoding
// then creates solver variables per node and translates every rule,
// request constraint and policy into clauses and soft criteria. Every oracle
// query happens during expansion; the solver works on in-memory data only.
package compile

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// Input is one compilation request.
type Input struct {
	// Roots are solved together, one node per package name.
	Roots []*spec.Spec
	// Installed are concrete specs that may be reused, with their subtrees.
	Installed []*spec.Node
}

// Program is a compiled problem plus the variable layout needed to read a
// model back.
type Program struct {
	Problem  *solver.Problem
	Roots    []*spec.Spec
	Nodes    []*Node
	Virtuals []*Virtual

	nodes    map[string]*Node
	virtuals map[string]*Virtual
}

// Node returns the node for a package name, or nil.
func (p *Program) Node(name string) *Node { return p.nodes[name] }

// Virtual returns the virtual named name, or nil.
func (p *Program) Virtual(name string) *Virtual { return p.virtuals[name] }

// RootNames returns the distinct root package names in request order.
func (p *Program) RootNames() []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range p.Roots {
		if !seen[r.Name] {
			seen[r.Name] = true
			out = append(out, r.Name)
		}
	}
	return out
}

// Node holds the variables of one possible package node.
type Node struct {
	Name string
	Root bool

	Present solver.Var
	// Origin is 0 when the node is built, k when it reuses Reuse[k-1].
	Origin solver.Var
	Reuse  []*spec.Node

	Version  solver.Var
	Versions []repo.VersionInfo

	Compiler  solver.Var
	Compilers []spec.Compiler

	Arch  solver.Var
	Archs []spec.Arch

	Variants []*Variant
	Edges    []*Edge

	variants map[string]*Variant
	edges    map[string]*Edge
	vedges   map[string]solver.Var
	info     *nodeInfo
}

// Variant returns the variant variables for name, or nil.
func (n *Node) Variant(name string) *Variant { return n.variants[name] }

// Edge returns the potential edge to child, or nil.
func (n *Node) Edge(child string) *Edge { return n.edges[child] }

// built returns the literal "n is built rather than reused".
func (n *Node) built(p *solver.Problem) solver.Lit { return p.Is(n.Origin, 0) }

// NoneValue labels the value of a conditional variant that is not defined.
const NoneValue = "none"

// Variant holds the variables of one variant of a node.
//
// Single-valued variants use Var over Values, with a trailing NoneValue when
// the variant is conditional. Multi-valued variants use one boolean per
// value in Flags.
type Variant struct {
	Name        string
	Multi       bool
	Values      []string
	Conditional bool
	Var         solver.Var
	Flags       []solver.Var
	// Defined is true when the variant exists on the node; only set for
	// conditional variants.
	Defined solver.Var
}

func (v *Variant) index(value string) int {
	for i, x := range v.Values {
		if x == value {
			return i
		}
	}
	return -1
}

// none is the value index of NoneValue.
func (v *Variant) none() int { return len(v.Values) }

// Edge is a potential dependency edge. It is active when any cause holds.
type Edge struct {
	Child  string
	Var    solver.Var
	Causes []Cause
}

// Cause is one reason an edge exists.
type Cause struct {
	Active  solver.Var
	Types   spec.DepTypes
	Virtual string
	Rule    string
}

// Virtual holds the provider choice for a virtual package.
type Virtual struct {
	Name      string
	Providers []string
	Provider  solver.Var
	Used      solver.Var
	rules     map[string][]repo.ProviderRule
}

func (v *Virtual) index(provider string) int {
	for i, p := range v.Providers {
		if p == provider {
			return i
		}
	}
	return -1
}

// UnreachableError reports a node that no expansion of the request can
// produce, or a rule that names a package the repository does not have.
type UnreachableError struct {
	Name   string
	Source string
	Reason string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("compile: %s: %s (from %s)", e.Name, e.Reason, e.Source)
}

// Source describes the origin of a clause group, for diagnostics.
type Source struct {
	// Kind is "request", "package" or "config".
	Kind    string
	Package string
	Rule    string
	Message string
}

// Compile builds the problem for in against oracle under policy.
func Compile(ctx context.Context, oracle repo.Oracle, policy *config.Policy, in Input) (*Program, error) {
	log := logr.FromContextOrDiscard(ctx)
	if len(in.Roots) == 0 {
		return nil, fmt.Errorf("compile: no roots")
	}
	x := newExpander(oracle, policy)
	if err := x.expand(in); err != nil {
		return nil, err
	}
	log.V(1).Info("expanded", "roots", len(in.Roots), "nodes", len(x.order), "virtuals", len(x.vorder))

	e := newEncoder(x, policy, in.Roots)
	prog, err := e.encode()
	if err != nil {
		return nil, err
	}
	log.V(1).Info("encoded", "variables", prog.Problem.NumVars(), "clauses", prog.Problem.NumClauses(),
		"groups", len(prog.Problem.Groups()))
	return prog, nil
}

// Acyclic reports whether the active edges of m form a DAG.
func (p *Program) Acyclic(m *solver.Model) bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Node]int, len(p.Nodes))
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		color[n] = grey
		for _, e := range n.Edges {
			if !m.Bool(e.Var) {
				continue
			}
			c := p.nodes[e.Child]
			switch color[c] {
			case grey:
				return false
			case white:
				if !visit(c) {
					return false
				}
			}
		}
		color[n] = black
		return true
	}
	for _, n := range p.Nodes {
		if m.Bool(n.Present) && color[n] == white && !visit(n) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func versionStrings(vs []repo.VersionInfo) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Version.String()
	}
	return out
}

func matchingVersions(domain []repo.VersionInfo, l version.List) []int {
	var out []int
	for i, v := range domain {
		if l.Contains(v.Version) {
			out = append(out, i)
		}
	}
	return out
}
