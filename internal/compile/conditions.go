package compile

import (
	"strconv"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// condition returns literals whose conjunction holds exactly when s holds on
// n. ok is false when s can never hold on n. A nil s always holds.
//
// "^zlib@1.3" holds when zlib is at 1.3 and n reaches it directly or through
// one of its own dependencies. Qualified dependencies such as
// "^[deptypes=build] zlib" need a direct edge. A virtual name holds through
// the provider the depending node reaches for it.
func (e *encoder) condition(n *Node, s *spec.Spec) (lits []solver.Lit, ok bool) {
	if s == nil {
		return nil, true
	}
	p := e.p
	if s.Name != "" && s.Name != n.Name {
		return nil, false
	}
	if !s.Versions.IsAny() {
		idx := matchingVersions(n.Versions, s.Versions)
		switch {
		case len(idx) == 0:
			return nil, false
		case len(idx) < len(n.Versions):
			lits = append(lits, p.In(n.Version, idx...))
		}
	}
	for _, name := range s.VariantNames() {
		vl, ok := e.variantLits(n, s.Variants[name])
		if !ok {
			return nil, false
		}
		lits = append(lits, vl...)
	}
	if s.Compiler != nil {
		var idx []int
		for i, c := range n.Compilers {
			if c.Satisfies(*s.Compiler) {
				idx = append(idx, i)
			}
		}
		switch {
		case len(idx) == 0:
			return nil, false
		case len(idx) < len(n.Compilers):
			lits = append(lits, p.In(n.Compiler, idx...))
		}
	}
	if !s.Arch.IsZero() {
		var idx []int
		for i, a := range n.Archs {
			if a.Matches(s.Arch) {
				idx = append(idx, i)
			}
		}
		switch {
		case len(idx) == 0:
			return nil, false
		case len(idx) < len(n.Archs):
			lits = append(lits, p.In(n.Arch, idx...))
		}
	}
	for _, d := range s.Deps {
		dl, ok := e.dependencyCondition(n, d)
		if !ok {
			return nil, false
		}
		lits = append(lits, dl...)
	}
	return lits, true
}

func (e *encoder) variantLits(n *Node, want spec.Variant) ([]solver.Lit, bool) {
	v := n.variants[want.Name]
	if v == nil {
		return nil, false
	}
	if v.Multi {
		lits := make([]solver.Lit, 0, len(want.Values))
		for _, value := range want.Values {
			i := v.index(value)
			if i < 0 {
				return nil, false
			}
			lits = append(lits, e.p.True(v.Flags[i]))
		}
		return lits, true
	}
	if len(want.Values) != 1 {
		return nil, false
	}
	i := v.index(want.Values[0])
	if i < 0 {
		return nil, false
	}
	return []solver.Lit{e.p.Is(v.Var, i)}, true
}

// dependencyCondition is the literal "n depends on something that matches
// d", through at most one intermediate node unless d is qualified.
func (e *encoder) dependencyCondition(n *Node, d *spec.Dependency) ([]solver.Lit, bool) {
	direct, ok := e.directCondition(n, d.Spec)
	if d.Direct() {
		return direct, ok
	}
	p := e.p
	key := "reach(" + n.Name + "," + d.Spec.String() + ")"
	if g, ok := e.gates[key]; ok {
		return []solver.Lit{p.True(g)}, true
	}
	var branches []solver.Lit
	if ok {
		branches = append(branches, e.conjunction("direct("+n.Name+","+d.Spec.Name+")", direct))
	}
	for _, ed := range n.Edges {
		k := e.prog.nodes[ed.Child]
		if k == n {
			continue
		}
		lits, ok := e.directCondition(k, d.Spec)
		if !ok {
			continue
		}
		lits = append([]solver.Lit{p.True(ed.Var)}, lits...)
		branches = append(branches, e.conjunction("through("+n.Name+","+k.Name+","+d.Spec.Name+")", lits))
	}
	if len(branches) == 0 {
		return nil, false
	}
	g := p.Or(key, branches...)
	e.gates[key] = g
	return []solver.Lit{p.True(g)}, true
}

// directCondition is the literal "n has an edge to something that matches d".
func (e *encoder) directCondition(n *Node, d *spec.Spec) ([]solver.Lit, bool) {
	p := e.p
	if child := e.prog.nodes[d.Name]; child != nil {
		ed := n.edges[d.Name]
		if ed == nil {
			return nil, false
		}
		cl, ok := e.condition(child, nodePart(d))
		if !ok {
			return nil, false
		}
		return append([]solver.Lit{p.True(ed.Var)}, cl...), true
	}
	v := e.prog.virtuals[d.Name]
	if v == nil {
		return nil, false
	}
	vedge, ok := n.vedges[v.Name]
	if !ok {
		return nil, false
	}
	key := "dep(" + n.Name + "," + d.String() + ")"
	if g, ok := e.gates[key]; ok {
		return []solver.Lit{p.True(g)}, true
	}
	var branches []solver.Lit
	for i, prov := range v.Providers {
		lits, ok := e.providerCondition(v, prov, d)
		if !ok {
			continue
		}
		lits = append([]solver.Lit{p.True(vedge), p.Is(v.Provider, i)}, lits...)
		branches = append(branches, p.True(e.and("depvia("+n.Name+","+prov+")", lits...)))
	}
	if len(branches) == 0 {
		return nil, false
	}
	g := p.Or(key, branches...)
	e.gates[key] = g
	return []solver.Lit{p.True(g)}, true
}

// providerCondition is the condition on prov for it to satisfy d, a spec
// written against virtual v: prov must provide v at a version in d's range
// and match the rest of d.
func (e *encoder) providerCondition(v *Virtual, prov string, d *spec.Spec) ([]solver.Lit, bool) {
	pn := e.prog.nodes[prov]
	pl, ok := e.provides(v, pn, d.Versions)
	if !ok {
		return nil, false
	}
	anon := nodePart(d)
	anon.Name = ""
	anon.Versions = version.Any()
	cl, ok := e.condition(pn, anon)
	if !ok {
		return nil, false
	}
	return append(pl, cl...), true
}

// provides returns the condition under which pn provides v at some version
// in vl.
func (e *encoder) provides(v *Virtual, pn *Node, vl version.List) ([]solver.Lit, bool) {
	key := "provides(" + pn.Name + "," + v.Name + "@" + vl.String() + ")"
	if g, ok := e.gates[key]; ok {
		return []solver.Lit{e.p.True(g)}, true
	}
	var branches []solver.Lit
	for _, r := range v.rules[pn.Name] {
		if !vl.IsAny() && !r.Virtual.Versions.Intersects(vl) {
			continue
		}
		lits, ok := e.condition(pn, r.When)
		if !ok {
			continue
		}
		if len(lits) == 0 {
			return nil, true
		}
		branches = append(branches, e.p.True(e.and("when("+r.ID+")", lits...)))
	}
	if len(branches) == 0 {
		return nil, false
	}
	g := e.p.Or(key, branches...)
	e.gates[key] = g
	return []solver.Lit{e.p.True(g)}, true
}

var anyVersion = version.Any()

// conjunction returns lits as a single literal.
func (e *encoder) conjunction(name string, lits []solver.Lit) solver.Lit {
	if len(lits) == 1 {
		return lits[0]
	}
	return e.p.True(e.and(name, lits...))
}

// and returns a memoized gate for the conjunction of lits.
func (e *encoder) and(name string, lits ...solver.Lit) solver.Var {
	key := litsKey("and", lits)
	if g, ok := e.gates[key]; ok {
		return g
	}
	g := e.p.And(name, lits...)
	e.gates[key] = g
	return g
}

// or returns a memoized gate for the disjunction of lits.
func (e *encoder) or(name string, lits ...solver.Lit) solver.Var {
	key := litsKey("or", lits)
	if g, ok := e.gates[key]; ok {
		return g
	}
	g := e.p.Or(name, lits...)
	e.gates[key] = g
	return g
}

func litsKey(op string, lits []solver.Lit) string {
	var b strings.Builder
	b.WriteString(op)
	for _, l := range lits {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(int(l.Var())))
		for _, v := range l.Values() {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(v))
		}
	}
	return b.String()
}

// nodePart returns s without its dependency constraints.
func nodePart(s *spec.Spec) *spec.Spec {
	out := s.Copy()
	out.Deps = nil
	return out
}

// withoutVersions returns s without its version constraint, or nil.
func withoutVersions(s *spec.Spec) *spec.Spec {
	if s == nil {
		return nil
	}
	out := s.Copy()
	out.Versions = version.Any()
	return out
}
