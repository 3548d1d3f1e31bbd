package compile

import (
	"fmt"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

type encoder struct {
	x      *expander
	policy *config.Policy
	p      *solver.Problem
	prog   *Program

	// gates memoizes auxiliary variables by a structural key.
	gates map[string]solver.Var
	// rules holds the activation gate of each applicable dependency rule.
	rules map[*ruleUse]solver.Var
	reqs  []requirement
	crit  map[string]*solver.Criterion
}

func newEncoder(x *expander, policy *config.Policy, roots []*spec.Spec) *encoder {
	p := solver.NewProblem()
	return &encoder{
		x:      x,
		policy: policy,
		p:      p,
		prog: &Program{
			Problem:  p,
			Roots:    roots,
			nodes:    make(map[string]*Node),
			virtuals: make(map[string]*Virtual),
		},
		gates: make(map[string]solver.Var),
		rules: make(map[*ruleUse]solver.Var),
		crit:  make(map[string]*solver.Criterion),
	}
}

func (e *encoder) encode() (*Program, error) {
	for _, name := range append(append([]string(nil), e.policy.Criteria...), config.DefaultCriteria...) {
		e.crit[name] = e.p.Criterion(name)
	}

	for _, info := range e.x.order {
		if err := e.attributes(info); err != nil {
			return nil, err
		}
	}
	for _, vi := range e.x.vorder {
		e.virtual(vi)
	}
	for _, n := range e.prog.Nodes {
		e.edges(n)
	}
	for _, n := range e.prog.Nodes {
		e.ruleGates(n)
		e.reuseCauses(n)
	}
	e.definitions()

	for _, n := range e.prog.Nodes {
		e.structure(n)
		e.variantRules(n)
		e.reusePins(n)
		e.dependencies(n)
		e.conflicts(n)
		e.requirements(n)
		e.configRequire(n)
	}
	e.providerRules()
	e.requests()
	e.criteria()
	return e.prog, nil
}

func (e *encoder) attributes(info *nodeInfo) error {
	p := e.p
	n := &Node{
		Name:      info.name,
		Root:      info.root,
		Reuse:     info.reuse,
		Versions:  info.versions,
		Compilers: e.x.compilers,
		Archs:     e.x.archs,
		variants:  make(map[string]*Variant),
		edges:     make(map[string]*Edge),
		vedges:    make(map[string]solver.Var),
		info:      info,
	}
	if n.Root {
		n.Present = p.NewBool("present(" + n.Name + ")")
		p.Add(solver.Core, p.True(n.Present))
	} else {
		n.Present = p.NewAux("present(" + n.Name + ")")
	}

	origins := []string{"build"}
	order := make([]int, 0, len(n.Reuse)+1)
	for i, c := range n.Reuse {
		origins = append(origins, c.Hash())
		order = append(order, i+1)
	}
	n.Origin = p.NewVar("origin("+n.Name+")", origins)
	p.Prefer(n.Origin, append(order, 0))

	n.Version = p.NewVar("version("+n.Name+")", versionStrings(n.Versions))

	labels := make([]string, len(n.Compilers))
	for i, c := range n.Compilers {
		labels[i] = c.String()
	}
	n.Compiler = p.NewVar("compiler("+n.Name+")", labels)
	corder, err := e.compilerOrder(n)
	if err != nil {
		return err
	}
	p.Prefer(n.Compiler, corder)

	labels = make([]string, len(n.Archs))
	for i, a := range n.Archs {
		labels[i] = a.String()
	}
	n.Arch = p.NewVar("arch("+n.Name+")", labels)
	p.Prefer(n.Arch, e.archOrder(n))

	pref := e.policy.Packages[n.Name].Variants
	for _, vi := range info.variants {
		v := &Variant{Name: vi.name, Multi: vi.multi, Values: vi.values, Conditional: vi.conditional()}
		label := "variant(" + n.Name + "," + vi.name + ")"
		defaults := firstDefaults(vi)
		if pref != nil {
			if pv, ok := pref.Variants[vi.name]; ok {
				defaults = pv.Values
			}
		}
		if v.Multi {
			for _, value := range v.Values {
				f := p.NewBool(label + "=" + value)
				if contains(defaults, value) {
					p.Prefer(f, []int{1, 0})
				}
				v.Flags = append(v.Flags, f)
			}
		} else {
			values := v.Values
			if v.Conditional {
				values = append(append([]string(nil), values...), NoneValue)
			}
			v.Var = p.NewVar(label, values)
			var order []int
			for _, d := range defaults {
				if i := v.index(d); i >= 0 {
					order = append(order, i)
				}
			}
			p.Prefer(v.Var, order)
		}
		if v.Conditional {
			v.Defined = p.NewAux("defined(" + n.Name + "," + vi.name + ")")
		}
		n.Variants = append(n.Variants, v)
		n.variants[v.Name] = v
	}

	e.prog.Nodes = append(e.prog.Nodes, n)
	e.prog.nodes[n.Name] = n
	return nil
}

// firstDefaults returns the defaults at the most preferred version that
// declares the variant.
func firstDefaults(vi *variantInfo) []string {
	for _, d := range vi.defs {
		if d.Name != "" {
			return d.Default
		}
	}
	return nil
}

// compilerOrder lists compiler indexes with the package's preferred
// compilers first, then configured ones, then installed-only ones.
func (e *encoder) compilerOrder(n *Node) ([]int, error) {
	var order []int
	for _, raw := range e.policy.Packages[n.Name].Compilers {
		cs, err := parseCompilerSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("compile: packages.%s.compiler: %w", n.Name, err)
		}
		for i := 0; i < e.x.configured; i++ {
			if n.Compilers[i].Satisfies(cs) {
				order = append(order, i)
			}
		}
	}
	for i := range n.Compilers {
		order = append(order, i)
	}
	return dedupe(order), nil
}

func (e *encoder) archOrder(n *Node) []int {
	var order []int
	for _, t := range e.policy.Packages[n.Name].Targets {
		for i := 0; i < e.x.platforms; i++ {
			if n.Archs[i].Target == t {
				order = append(order, i)
			}
		}
	}
	for i := range n.Archs {
		order = append(order, i)
	}
	return dedupe(order)
}

func parseCompilerSpec(raw string) (spec.CompilerSpec, error) {
	s, err := spec.Parse("%" + strings.TrimPrefix(strings.TrimSpace(raw), "%"))
	if err != nil {
		return spec.CompilerSpec{}, err
	}
	if s.Compiler == nil || !s.Versions.IsAny() || len(s.Variants) > 0 || !s.Arch.IsZero() || len(s.Deps) > 0 {
		return spec.CompilerSpec{}, fmt.Errorf("%q is not a compiler spec", raw)
	}
	return *s.Compiler, nil
}

func (e *encoder) virtual(vi *virtualInfo) {
	p := e.p
	v := &Virtual{Name: vi.name, Providers: vi.providers, rules: vi.rules}
	v.Provider = p.NewVar("provider("+v.Name+")", v.Providers)
	v.Used = p.NewAux("used(" + v.Name + ")")
	e.prog.Virtuals = append(e.prog.Virtuals, v)
	e.prog.virtuals[v.Name] = v
}

// edges creates the potential edge variables of n.
func (e *encoder) edges(n *Node) {
	for _, u := range n.info.deps {
		child := u.rule.Spec.Name
		if v := e.prog.virtuals[child]; v != nil {
			if _, ok := n.vedges[child]; !ok {
				n.vedges[child] = e.p.NewAux("vedge(" + n.Name + "," + child + ")")
			}
			for _, prov := range v.Providers {
				e.edge(n, prov)
			}
			continue
		}
		e.edge(n, child)
	}
	for _, c := range n.Reuse {
		for _, ie := range c.Edges {
			e.edge(n, ie.Child.Name)
		}
	}
}

func (e *encoder) edge(n *Node, child string) *Edge {
	if ed, ok := n.edges[child]; ok {
		return ed
	}
	ed := &Edge{Child: child, Var: e.p.NewAux("edge(" + n.Name + "," + child + ")")}
	n.edges[child] = ed
	n.Edges = append(n.Edges, ed)
	return ed
}

// building returns the literals "n is in the graph and is built".
func (e *encoder) building(n *Node) []solver.Lit {
	return []solver.Lit{e.p.True(n.Present), n.built(e.p)}
}

// ruleGates creates the activation variable of every dependency rule of n
// that can hold, and records the edges it causes.
func (e *encoder) ruleGates(n *Node) {
	p := e.p
	for _, u := range n.info.deps {
		lits := e.building(n)
		if len(u.versions) < len(n.Versions) {
			lits = append(lits, p.In(n.Version, u.versions...))
		}
		cond, ok := e.condition(n, withoutVersions(u.rule.When))
		if !ok {
			continue
		}
		a := p.And("rule("+n.Name+","+u.rule.ID+")", append(lits, cond...)...)
		e.rules[u] = a

		child := u.rule.Spec.Name
		if e.prog.virtuals[child] != nil {
			continue
		}
		ed := n.edges[child]
		ed.Causes = append(ed.Causes, Cause{Active: a, Types: u.rule.Types, Rule: u.rule.ID})
	}

	for _, name := range sortedKeys(n.vedges) {
		v := e.prog.virtuals[name]
		var types spec.DepTypes
		var ids []string
		for _, u := range n.info.deps {
			if _, ok := e.rules[u]; ok && u.rule.Spec.Name == name {
				types |= u.rule.Types
				ids = append(ids, u.rule.ID)
			}
		}
		for i, prov := range v.Providers {
			a := p.And("via("+n.Name+","+name+","+prov+")", p.True(n.vedges[name]), p.Is(v.Provider, i))
			ed := n.edges[prov]
			ed.Causes = append(ed.Causes, Cause{Active: a, Types: types, Virtual: name, Rule: strings.Join(ids, ",")})
		}
	}
}

func (e *encoder) reuseCauses(n *Node) {
	for k, c := range n.Reuse {
		var active solver.Var
		created := false
		for _, ie := range c.Edges {
			if !created {
				active = e.p.And("reused("+n.Name+","+c.ShortHash()+")", e.p.Is(n.Origin, k+1))
				created = true
			}
			ed := n.edges[ie.Child.Name]
			ed.Causes = append(ed.Causes, Cause{
				Active:  active,
				Types:   ie.Types,
				Virtual: strings.Join(ie.Virtuals, ","),
				Rule:    "installed " + c.ShortHash(),
			})
		}
	}
}

// definitions ties edges to their causes and virtual usage to the edges
// that need it.
func (e *encoder) definitions() {
	p := e.p
	incoming := make(map[string][]solver.Lit)
	used := make(map[string][]solver.Lit)
	for _, n := range e.prog.Nodes {
		for _, ed := range n.Edges {
			lits := make([]solver.Lit, len(ed.Causes))
			for i, c := range ed.Causes {
				lits[i] = p.True(c.Active)
			}
			p.DefineOr(ed.Var, lits...)
			incoming[ed.Child] = append(incoming[ed.Child], p.True(ed.Var))
		}
		for _, name := range sortedKeys(n.vedges) {
			var lits []solver.Lit
			for _, u := range n.info.deps {
				if a, ok := e.rules[u]; ok && u.rule.Spec.Name == name {
					lits = append(lits, p.True(a))
				}
			}
			p.DefineOr(n.vedges[name], lits...)
			used[name] = append(used[name], p.True(n.vedges[name]))
		}
	}
	for _, n := range e.prog.Nodes {
		for _, ed := range n.Edges {
			p.Implies(solver.Core, []solver.Lit{p.True(ed.Var)}, p.True(e.prog.nodes[ed.Child].Present))
		}
		if !n.Root {
			p.Add(solver.Core, append([]solver.Lit{p.False(n.Present)}, incoming[n.Name]...)...)
		}
	}
	for _, v := range e.prog.Virtuals {
		p.DefineOr(v.Used, used[v.Name]...)
		p.Add(solver.Core, p.True(v.Used), p.Is(v.Provider, 0))
	}
}

// structure adds the attribute constraints every node carries.
func (e *encoder) structure(n *Node) {
	p := e.p
	if !n.Root {
		present := p.True(n.Present)
		p.Add(solver.Core, present, p.Is(n.Origin, 0))
		p.Add(solver.Core, present, p.Is(n.Version, 0))
		p.Add(solver.Core, present, p.Is(n.Compiler, p.Preferred(n.Compiler)))
		p.Add(solver.Core, present, p.Is(n.Arch, p.Preferred(n.Arch)))
	}

	build := e.building(n)
	if n.info.declared < len(n.Versions) {
		var only []int
		for i := n.info.declared; i < len(n.Versions); i++ {
			only = append(only, i)
		}
		p.Forbid(solver.Core, append(build, p.In(n.Version, only...))...)
	}
	for i := e.x.configured; i < len(n.Compilers); i++ {
		p.Forbid(solver.Core, append(build, p.Is(n.Compiler, i))...)
	}
	for i := e.x.platforms; i < len(n.Archs); i++ {
		p.Forbid(solver.Core, append(build, p.Is(n.Arch, i))...)
	}

	for i := 0; i < e.x.configured; i++ {
		c := e.policy.Compilers[i]
		var ok []int
		for j := 0; j < e.x.platforms; j++ {
			if c.Supports(n.Archs[j]) {
				ok = append(ok, j)
			}
		}
		if len(ok) == e.x.platforms {
			continue
		}
		given := append(append([]solver.Lit(nil), build...), p.Is(n.Compiler, i))
		if len(ok) == 0 {
			p.Forbid(solver.Core, given...)
			continue
		}
		p.Implies(solver.Core, given, p.In(n.Arch, ok...))
	}

	if len(n.Archs) < 2 {
		return
	}
	for _, ed := range n.Edges {
		child := e.prog.nodes[ed.Child]
		for i, a := range n.Archs {
			var same []int
			for j, b := range child.Archs {
				if a.Platform == b.Platform && a.OS == b.OS {
					same = append(same, j)
				}
			}
			if len(same) == len(child.Archs) {
				continue
			}
			p.Implies(solver.Core, []solver.Lit{p.True(ed.Var), p.Is(n.Arch, i)}, p.In(child.Arch, same...))
		}
	}
}

// variantRules constrains which variants are defined and which values are
// legal at each version.
func (e *encoder) variantRules(n *Node) {
	p := e.p
	build := e.building(n)
	for vi, info := range n.info.variants {
		v := n.Variants[vi]
		if v.Conditional {
			var branches []solver.Lit
			for _, g := range whenGroups(info) {
				lits := []solver.Lit{}
				if len(g.versions) < len(n.Versions) {
					lits = append(lits, p.In(n.Version, g.versions...))
				}
				cond, ok := e.condition(n, withoutVersions(g.when))
				if !ok {
					continue
				}
				lits = append(lits, cond...)
				branches = append(branches, p.True(e.and("cond("+n.Name+","+v.Name+")", lits...)))
			}
			gate := p.Or("declared("+n.Name+","+v.Name+")", branches...)
			p.Implies(solver.Core, append(append([]solver.Lit(nil), build...), p.True(gate)), p.True(v.Defined))
			p.Implies(solver.Core, append(append([]solver.Lit(nil), build...), p.False(gate)), p.False(v.Defined))
			if v.Multi {
				flags := make([]solver.Lit, len(v.Flags))
				for i, f := range v.Flags {
					flags[i] = p.True(f)
				}
				p.DefineOr(v.Defined, flags...)
			} else {
				all := make([]int, len(v.Values))
				for i := range all {
					all[i] = i
				}
				p.Add(solver.Core, p.False(v.Defined), p.In(v.Var, all...))
				p.Add(solver.Core, p.True(v.Defined), p.Is(v.Var, v.none()))
			}
		} else if v.Multi {
			c := []solver.Lit{build[0].Not(), build[1].Not()}
			for _, f := range v.Flags {
				c = append(c, p.True(f))
			}
			p.Add(solver.Core, c...)
		}

		for i, d := range info.defs {
			if d.Name == "" {
				continue
			}
			given := append(append([]solver.Lit(nil), build...), p.Is(n.Version, i))
			if v.Multi {
				for j, value := range v.Values {
					if !d.Allows(value) {
						p.Forbid(solver.Core, append(given, p.True(v.Flags[j]))...)
					}
				}
				continue
			}
			var allowed []int
			for j, value := range v.Values {
				if d.Allows(value) {
					allowed = append(allowed, j)
				}
			}
			if len(allowed) == len(v.Values) {
				continue
			}
			if v.Conditional {
				allowed = append(allowed, v.none())
			}
			p.Implies(solver.Core, given, p.In(v.Var, allowed...))
		}
	}
}

type whenGroup struct {
	when     *spec.Spec
	versions []int
}

// whenGroups groups the versions declaring a variant by their condition.
func whenGroups(info *variantInfo) []whenGroup {
	var out []whenGroup
	index := make(map[string]int)
	for i, d := range info.defs {
		if d.Name == "" {
			continue
		}
		key := ""
		if hasNodeCondition(d.When) {
			key = withoutVersions(d.When).String()
		}
		j, ok := index[key]
		if !ok {
			j = len(out)
			index[key] = j
			out = append(out, whenGroup{when: d.When})
		}
		out[j].versions = append(out[j].versions, i)
	}
	return out
}

// reusePins fixes every attribute of n to the installed spec it reuses.
func (e *encoder) reusePins(n *Node) {
	p := e.p
	for k, c := range n.Reuse {
		chosen := p.Is(n.Origin, k+1)
		var pins []solver.Lit
		ok := true
		if i := indexVersion(n.Versions, c.Version); i >= 0 {
			pins = append(pins, p.Is(n.Version, i))
		} else {
			ok = false
		}
		pins = append(pins, p.Is(n.Compiler, indexOf(n.Compilers, c.Compiler)))
		pins = append(pins, p.Is(n.Arch, indexOf(n.Archs, c.Arch)))
		for _, v := range n.Variants {
			have, set := c.Variants[v.Name]
			switch {
			case v.Multi:
				for j, value := range v.Values {
					if set && contains(have.Values, value) {
						pins = append(pins, p.True(v.Flags[j]))
					} else {
						pins = append(pins, p.False(v.Flags[j]))
					}
				}
			case set && len(have.Values) == 1 && v.index(have.Values[0]) >= 0:
				pins = append(pins, p.Is(v.Var, v.index(have.Values[0])))
			case !set && v.Conditional:
				pins = append(pins, p.Is(v.Var, v.none()))
			default:
				ok = false
			}
		}
		for _, ie := range c.Edges {
			child := e.prog.nodes[ie.Child.Name]
			j := -1
			for i, cand := range child.Reuse {
				if cand.Hash() == ie.Child.Hash() {
					j = i
				}
			}
			if j < 0 {
				ok = false
				break
			}
			pins = append(pins, p.Is(child.Origin, j+1))
		}
		if !ok {
			p.Forbid(solver.Core, chosen)
			continue
		}
		p.Implies(solver.Core, []solver.Lit{chosen}, pins...)
	}
}

func indexOf[T fmt.Stringer](list []T, v T) int {
	for i, x := range list {
		if x.String() == v.String() {
			return i
		}
	}
	panic(fmt.Sprintf("compile: %v missing from its own domain", v))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func dedupe(order []int) []int {
	seen := make(map[int]bool, len(order))
	out := order[:0]
	for _, i := range order {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}
