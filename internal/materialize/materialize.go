// Package materialize reads a solver model back into a concrete dependency
// graph.
package materialize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/compile"
	"github.com/vjranagit/spack-sub003/internal/graph"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// ErrInconsistent is matched by every InconsistencyError.
var ErrInconsistent = errors.New("inconsistent model")

// InconsistencyError reports a model that violates an invariant the
// compiled problem should have enforced.
type InconsistencyError struct {
	Node string
	Msg  string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("materialize: %s: %s", e.Node, e.Msg)
}

func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistent }

func inconsistent(node, format string, args ...any) error {
	return &InconsistencyError{Node: node, Msg: fmt.Sprintf(format, args...)}
}

// Materialize builds the concrete DAGs of prog's roots from m. Nodes are
// created children first and sealed as they are completed; a reused node is
// the installed node itself.
func Materialize(prog *compile.Program, m *solver.Model) (*graph.Graph, error) {
	mt := &materializer{prog: prog, m: m, done: make(map[string]*spec.Node), active: make(map[string]bool)}
	var roots []*spec.Node
	for _, name := range prog.RootNames() {
		n := prog.Node(name)
		if n == nil || !m.Bool(n.Present) {
			return nil, inconsistent(name, "requested root is absent from the model")
		}
		node, err := mt.node(n)
		if err != nil {
			return nil, err
		}
		roots = append(roots, node)
	}
	if err := mt.checkPresent(); err != nil {
		return nil, err
	}
	g, err := graph.New(roots...)
	if err != nil {
		return nil, inconsistent("graph", "%v", err)
	}
	if name, ok := g.Unified(); !ok {
		return nil, inconsistent(name, "the model produced two different nodes for one package")
	}
	return g, nil
}

type materializer struct {
	prog   *compile.Program
	m      *solver.Model
	done   map[string]*spec.Node
	active map[string]bool
}

func (mt *materializer) node(n *compile.Node) (*spec.Node, error) {
	if out, ok := mt.done[n.Name]; ok {
		return out, nil
	}
	if mt.active[n.Name] {
		return nil, inconsistent(n.Name, "dependency cycle in the model")
	}
	mt.active[n.Name] = true
	defer delete(mt.active, n.Name)

	var out *spec.Node
	var err error
	if k := mt.m.Value(n.Origin); k > 0 {
		out, err = mt.reused(n, n.Reuse[k-1])
	} else {
		out, err = mt.built(n)
	}
	if err != nil {
		return nil, err
	}
	mt.done[n.Name] = out
	return out, nil
}

// reused checks that the model agrees with the installed node it picked.
func (mt *materializer) reused(n *compile.Node, installed *spec.Node) (*spec.Node, error) {
	m := mt.m
	if got := m.Label(n.Version); got != installed.Version.String() {
		return nil, inconsistent(n.Name, "reuses %s but chose version %s", installed.ShortHash(), got)
	}
	want := make(map[string]string, len(installed.Edges))
	for _, e := range installed.Edges {
		want[e.Child.Name] = e.Child.Hash()
	}
	for _, e := range n.Edges {
		if !m.Bool(e.Var) {
			continue
		}
		hash, ok := want[e.Child]
		if !ok {
			return nil, inconsistent(n.Name, "reuses %s but gained a dependency on %s", installed.ShortHash(), e.Child)
		}
		child := mt.prog.Node(e.Child)
		c, err := mt.node(child)
		if err != nil {
			return nil, err
		}
		if c.Hash() != hash {
			return nil, inconsistent(n.Name, "reuses %s but its %s is %s", installed.ShortHash(), e.Child, c.ShortHash())
		}
		delete(want, e.Child)
	}
	if len(want) > 0 {
		lost := make(map[string]bool, len(want))
		for name := range want {
			lost[name] = true
		}
		return nil, inconsistent(n.Name, "reuses %s but lost its dependencies on %s", installed.ShortHash(),
			strings.Join(sortedSet(lost), ", "))
	}
	return installed, nil
}

func (mt *materializer) built(n *compile.Node) (*spec.Node, error) {
	m := mt.m
	out := &spec.Node{
		Name:     n.Name,
		Version:  n.Versions[m.Value(n.Version)].Version,
		Compiler: n.Compilers[m.Value(n.Compiler)],
		Arch:     n.Archs[m.Value(n.Arch)],
	}
	for _, v := range n.Variants {
		value, ok, err := variantValue(m, v)
		if err != nil {
			return nil, inconsistent(n.Name, "%v", err)
		}
		if !ok {
			continue
		}
		if out.Variants == nil {
			out.Variants = make(map[string]spec.Variant)
		}
		out.Variants[v.Name] = value
	}

	for _, e := range n.Edges {
		if !m.Bool(e.Var) {
			continue
		}
		child := mt.prog.Node(e.Child)
		if !m.Bool(child.Present) {
			return nil, inconsistent(n.Name, "active edge to absent %s", e.Child)
		}
		var types spec.DepTypes
		virtuals := map[string]bool{}
		for _, c := range e.Causes {
			if !m.Bool(c.Active) {
				continue
			}
			types |= c.Types
			if c.Virtual != "" {
				for _, name := range strings.Split(c.Virtual, ",") {
					virtuals[name] = true
				}
			}
		}
		if types == 0 {
			return nil, inconsistent(n.Name, "edge to %s is active without a cause", e.Child)
		}
		c, err := mt.node(child)
		if err != nil {
			return nil, err
		}
		out.Edges = append(out.Edges, spec.Edge{Child: c, Types: types, Virtuals: sortedSet(virtuals)})
	}
	out.Seal()
	return out, nil
}

// variantValue reads one variant. ok is false when the variant is not
// defined on the node.
func variantValue(m *solver.Model, v *compile.Variant) (spec.Variant, bool, error) {
	if v.Conditional && v.Multi && !m.Bool(v.Defined) {
		return spec.Variant{}, false, nil
	}
	if !v.Multi {
		label := m.Label(v.Var)
		if v.Conditional && m.Value(v.Var) == len(v.Values) {
			return spec.Variant{}, false, nil
		}
		return spec.Variant{Name: v.Name, Values: []string{label}}, true, nil
	}
	var values []string
	for j, f := range v.Flags {
		if m.Bool(f) {
			values = append(values, v.Values[j])
		}
	}
	if len(values) == 0 {
		return spec.Variant{}, false, fmt.Errorf("multi-valued variant %s has no value", v.Name)
	}
	sort.Strings(values)
	return spec.Variant{Name: v.Name, Values: values, Multi: true}, true, nil
}

// checkPresent makes sure every present node was reached from a root.
func (mt *materializer) checkPresent() error {
	for _, n := range mt.prog.Nodes {
		if mt.m.Bool(n.Present) {
			if _, ok := mt.done[n.Name]; !ok {
				return inconsistent(n.Name, "present but unreachable from every root")
			}
		}
	}
	return nil
}

func sortedSet(s map[string]bool) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
