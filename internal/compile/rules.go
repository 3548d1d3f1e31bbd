package compile

import (
	"strconv"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// Source kinds.
const (
	KindRequest = "request"
	KindPackage = "package"
	KindConfig  = "config"
)

func (e *encoder) group(label string, src Source) solver.GroupID {
	return e.p.NewGroup(label, src)
}

// require adds given → s holds on n to group g.
func (e *encoder) require(g solver.GroupID, given []solver.Lit, n *Node, s *spec.Spec) {
	lits, ok := e.condition(n, s)
	if !ok {
		e.p.Forbid(g, given...)
		return
	}
	e.p.Implies(g, given, lits...)
}

// requireVirtual adds given → the provider chosen for v matches s.
func (e *encoder) requireVirtual(g solver.GroupID, given []solver.Lit, v *Virtual, s *spec.Spec) {
	if !s.HasNodeConstraints() {
		return
	}
	for i, prov := range v.Providers {
		pick := append(append([]solver.Lit(nil), given...), e.p.Is(v.Provider, i))
		lits, ok := e.providerCondition(v, prov, s)
		if !ok {
			e.p.Forbid(g, pick...)
			continue
		}
		e.p.Implies(g, pick, lits...)
	}
}

func ruleLabel(subject, verb string, s, when *spec.Spec) string {
	label := subject + " " + verb + " " + s.String()
	if when != nil && (when.HasNodeConstraints() || len(when.Deps) > 0) {
		label += " when " + when.String()
	}
	return label
}

// dependencies constrains the child of every active dependency rule of n.
func (e *encoder) dependencies(n *Node) {
	p := e.p
	for _, u := range n.info.deps {
		a, ok := e.rules[u]
		if !ok {
			continue
		}
		r := u.rule
		if !r.Spec.HasNodeConstraints() && len(r.Spec.Deps) == 0 {
			continue
		}
		g := e.group(ruleLabel(n.Name, "depends on", r.Spec, r.When),
			Source{Kind: KindPackage, Package: n.Name, Rule: r.ID, Message: r.String()})
		given := []solver.Lit{p.True(a)}
		if v := e.prog.virtuals[r.Spec.Name]; v != nil {
			e.requireVirtual(g, given, v, nodePart(r.Spec))
		} else {
			e.require(g, given, e.prog.nodes[r.Spec.Name], nodePart(r.Spec))
		}
		for _, d := range r.Spec.Deps {
			e.requireAnywhere(g, given, d.Spec)
		}
	}
}

// requireAnywhere adds given → a node matching s is in the graph.
func (e *encoder) requireAnywhere(g solver.GroupID, given []solver.Lit, s *spec.Spec) {
	p := e.p
	if v := e.prog.virtuals[s.Name]; v != nil {
		p.Implies(g, given, p.True(v.Used))
		e.requireVirtual(g, given, v, nodePart(s))
		return
	}
	c := e.prog.nodes[s.Name]
	if c == nil {
		p.Forbid(g, given...)
		return
	}
	p.Implies(g, given, p.True(c.Present))
	e.require(g, given, c, nodePart(s))
}

func (e *encoder) conflicts(n *Node) {
	p := e.p
	for _, r := range n.info.conflicts {
		lits, ok := e.condition(n, r.Spec)
		if !ok {
			continue
		}
		when, ok := e.condition(n, r.When)
		if !ok {
			continue
		}
		g := e.group(ruleLabel(n.Name, "conflicts with", r.Spec, r.When),
			Source{Kind: KindPackage, Package: n.Name, Rule: r.ID, Message: conflictMessage(r)})
		all := append([]solver.Lit{p.True(n.Present)}, lits...)
		p.Forbid(g, append(all, when...)...)
	}
}

func conflictMessage(r repo.ConflictRule) string {
	if r.Msg != "" {
		return r.Msg
	}
	return r.String()
}

// requirement is an encoded requirement rule: it applies when Active holds,
// and each candidate holds when its gate does. A candidate that can never
// hold has gate -1.
type requirement struct {
	rule       repo.RequirementRule
	active     solver.Var
	candidates []solver.Var
}

func (e *encoder) requirements(n *Node) {
	p := e.p
	for _, r := range n.info.requires {
		when, ok := e.condition(n, r.When)
		if !ok {
			continue
		}
		w := e.and("when("+r.ID+")", append([]solver.Lit{p.True(n.Present)}, when...)...)
		req := requirement{rule: r, active: w}
		var names []string
		for i, c := range r.Specs {
			names = append(names, c.String())
			lits, ok := e.condition(n, c)
			if !ok {
				req.candidates = append(req.candidates, -1)
				continue
			}
			req.candidates = append(req.candidates, e.and("candidate("+r.ID+","+strconv.Itoa(i)+")", lits...))
		}
		msg := r.Msg
		if msg == "" {
			msg = r.String()
		}
		label := n.Name + " requires " + string(r.Policy) + ": " + strings.Join(names, ", ")
		if r.When != nil && (r.When.HasNodeConstraints() || len(r.When.Deps) > 0) {
			label += " when " + r.When.String()
		}
		g := e.group(label, Source{Kind: KindPackage, Package: n.Name, Rule: r.ID, Message: msg})

		clause := []solver.Lit{p.False(w)}
		for _, t := range req.candidates {
			if t >= 0 {
				clause = append(clause, p.True(t))
			}
		}
		p.Add(g, clause...)
		if r.Policy == repo.ExactlyOne {
			for i, a := range req.candidates {
				for _, b := range req.candidates[i+1:] {
					if a >= 0 && b >= 0 {
						p.Forbid(g, p.True(w), p.True(a), p.True(b))
					}
				}
			}
		}
		e.reqs = append(e.reqs, req)
	}
}

func (e *encoder) configRequire(n *Node) {
	req := e.policy.Packages[n.Name].Require
	if req == nil {
		return
	}
	g := e.group("config requires "+n.Name+" "+req.String(),
		Source{Kind: KindConfig, Package: n.Name, Message: "packages." + n.Name + ".require: " + req.String()})
	given := []solver.Lit{e.p.True(n.Present)}
	e.require(g, given, n, nodePart(req))
	for _, d := range req.Deps {
		e.requireAnywhere(g, given, d.Spec)
	}
}

// providerRules lets a virtual only be provided by a package whose provides
// declaration holds.
func (e *encoder) providerRules() {
	p := e.p
	for _, v := range e.prog.Virtuals {
		var g solver.GroupID
		for i, prov := range v.Providers {
			pn := e.prog.nodes[prov]
			lits, ok := e.provides(v, pn, anyVersion)
			if ok && len(lits) == 0 {
				continue
			}
			if g == solver.Core {
				g = e.group("providers of "+v.Name, Source{Kind: KindPackage, Package: v.Name, Rule: "provides",
					Message: "a provider of " + v.Name + " must satisfy its provides declaration"})
			}
			given := []solver.Lit{p.True(v.Used), p.Is(v.Provider, i)}
			if !ok {
				p.Forbid(g, given...)
				continue
			}
			p.Implies(g, given, lits...)
		}
	}
}

// requests adds the constraints of the requested roots.
func (e *encoder) requests() {
	for _, r := range e.prog.Roots {
		n := e.prog.nodes[r.Name]
		self := nodePart(r)
		if self.HasNodeConstraints() {
			g := e.group("request requires "+self.String(), Source{Kind: KindRequest, Package: r.Name, Message: r.String()})
			e.require(g, nil, n, self)
		}
		for _, d := range r.Deps {
			g := e.group("request requires "+dependencyString(d),
				Source{Kind: KindRequest, Package: r.Name, Rule: d.Spec.Name, Message: r.String()})
			if d.Direct() {
				e.requestDirect(g, n, d)
				continue
			}
			e.requireAnywhere(g, nil, d.Spec)
		}
	}
}

// requestDirect requires root to depend directly on d with d's edge types
// and virtuals.
func (e *encoder) requestDirect(g solver.GroupID, root *Node, d *spec.Dependency) {
	p := e.p
	name := d.Spec.Name
	virtuals := append([]string(nil), d.Virtuals...)
	var edges []*Edge
	if v := e.prog.virtuals[name]; v != nil {
		if !contains(virtuals, name) {
			virtuals = append(virtuals, name)
		}
		for _, prov := range v.Providers {
			if ed := root.edges[prov]; ed != nil {
				edges = append(edges, ed)
			}
		}
		e.requireVirtual(g, nil, v, nodePart(d.Spec))
	} else if ed := root.edges[name]; ed != nil {
		edges = append(edges, ed)
		e.require(g, nil, e.prog.nodes[name], nodePart(d.Spec))
	}
	if len(edges) == 0 {
		p.Add(g)
		return
	}

	// Some edge must carry every requested type and virtual.
	var options []solver.Lit
	for _, ed := range edges {
		lits := []solver.Lit{p.True(ed.Var)}
		ok := true
		for _, t := range []spec.DepTypes{spec.Build, spec.Link, spec.Run, spec.Test} {
			if d.Types&t == 0 {
				continue
			}
			var carriers []solver.Lit
			for _, c := range ed.Causes {
				if c.Types&t != 0 {
					carriers = append(carriers, p.True(c.Active))
				}
			}
			if len(carriers) == 0 {
				ok = false
				break
			}
			lits = append(lits, p.True(e.or("carries("+root.Name+","+ed.Child+","+t.String()+")", carriers...)))
		}
		for _, vn := range virtuals {
			if !ok {
				break
			}
			var carriers []solver.Lit
			for _, c := range ed.Causes {
				if contains(strings.Split(c.Virtual, ","), vn) {
					carriers = append(carriers, p.True(c.Active))
				}
			}
			if len(carriers) == 0 {
				ok = false
				break
			}
			lits = append(lits, p.True(e.or("carries("+root.Name+","+ed.Child+","+vn+")", carriers...)))
		}
		if ok {
			options = append(options, p.True(e.and("direct("+root.Name+","+ed.Child+")", lits...)))
		}
	}
	p.Add(g, options...)
}

func dependencyString(d *spec.Dependency) string {
	s := (&spec.Spec{Deps: []*spec.Dependency{d}}).String()
	return strings.TrimPrefix(s, " ^")
}
