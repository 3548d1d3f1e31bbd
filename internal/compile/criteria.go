package compile

import (
	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// criteria adds the soft costs. Criteria were registered in policy order
// when encoding started, so every term lands in the priority the policy
// gives it.
func (e *encoder) criteria() {
	p := e.p
	c := e.crit

	for _, req := range e.reqs {
		for j := 1; j < len(req.candidates); j++ {
			lits := []solver.Lit{p.True(req.active)}
			for _, t := range req.candidates[:j] {
				if t >= 0 {
					lits = append(lits, p.False(t))
				}
			}
			c[config.CriterionRequirementOrder].Cost(1, lits...)
		}
	}

	var compilers []solver.Var
	var guards []solver.Lit
	for _, n := range e.prog.Nodes {
		build := e.building(n)
		with := func(lits ...solver.Lit) []solver.Lit {
			return append(append([]solver.Lit(nil), build...), lits...)
		}
		e.userPreferences(n, with)

		if len(n.Reuse) > 0 {
			c[config.CriterionReuse].Cost(1, build...)
		}

		var deprecated []int
		for i := 0; i < n.info.declared; i++ {
			if n.Versions[i].Deprecated {
				deprecated = append(deprecated, i)
			}
			c[config.CriterionVersion].Cost(i, with(p.Is(n.Version, i))...)
		}
		if len(deprecated) > 0 {
			c[config.CriterionDeprecated].Cost(1, with(p.In(n.Version, deprecated...))...)
		}

		requested := e.requestedVariants(n)
		for vi, info := range n.info.variants {
			v := n.Variants[vi]
			if want, ok := requested[v.Name]; ok && v.Multi {
				scope := with()
				if v.Conditional {
					scope = append(scope, p.True(v.Defined))
				}
				e.variantCost(c[config.CriterionVariantDefaults], v, want, scope)
				continue
			}
			for _, g := range defaultGroups(info) {
				scope := with()
				if len(g.versions) < len(n.Versions) {
					scope = append(scope, p.In(n.Version, g.versions...))
				}
				if v.Conditional {
					scope = append(scope, p.True(v.Defined))
				}
				e.variantCost(c[config.CriterionVariantDefaults], v, g.defaults, scope)
			}
		}

		for rank, i := range e.p.Order(n.Compiler) {
			c[config.CriterionCompilerPreference].Cost(rank, with(p.Is(n.Compiler, i))...)
		}
		for rank, i := range e.p.Order(n.Arch) {
			c[config.CriterionTarget].Cost(rank, with(p.Is(n.Arch, i))...)
		}

		compilers = append(compilers, n.Compiler)
		guards = append(guards, p.True(n.Present))
		c[config.CriterionNodes].Cost(1, p.True(n.Present))
	}
	c[config.CriterionCompilers].CountDistinct(compilers, guards)

	for _, v := range e.prog.Virtuals {
		for i := 1; i < len(v.Providers); i++ {
			c[config.CriterionProvider].Cost(i, p.True(v.Used), p.Is(v.Provider, i))
		}
	}
}

// variantCost charges one for every value of v that differs from want
// while scope holds.
func (e *encoder) variantCost(c *solver.Criterion, v *Variant, want []string, scope []solver.Lit) {
	p := e.p
	with := func(l solver.Lit) []solver.Lit {
		return append(append([]solver.Lit(nil), scope...), l)
	}
	if v.Multi {
		for j, value := range v.Values {
			if contains(want, value) {
				c.Cost(1, with(p.False(v.Flags[j]))...)
			} else {
				c.Cost(1, with(p.True(v.Flags[j]))...)
			}
		}
		return
	}
	var other []int
	for j, value := range v.Values {
		if !contains(want, value) {
			other = append(other, j)
		}
	}
	if len(other) > 0 {
		c.Cost(1, with(p.In(v.Var, other...))...)
	}
}

// requestedVariants returns the variant values the request sets on n, either
// on a root or on one of its dependencies. A multi-valued variant set this
// way prefers exactly those values over the package defaults.
func (e *encoder) requestedVariants(n *Node) map[string][]string {
	var out map[string][]string
	add := func(s *spec.Spec) {
		if s.Name != n.Name {
			return
		}
		for _, name := range s.VariantNames() {
			if out == nil {
				out = make(map[string][]string)
			}
			for _, value := range s.Variants[name].Values {
				if !contains(out[name], value) {
					out[name] = append(out[name], value)
				}
			}
		}
	}
	for _, r := range e.prog.Roots {
		add(r)
		for _, d := range r.Deps {
			add(d.Spec)
		}
	}
	return out
}

func (e *encoder) userPreferences(n *Node, with func(...solver.Lit) []solver.Lit) {
	p := e.p
	c := e.crit[config.CriterionUserPreferences]
	pref, ok := e.policy.Packages[n.Name]
	if !ok {
		return
	}
	if len(pref.Versions) > 0 {
		var other []int
		for i := 0; i < len(n.Versions); i++ {
			matched := false
			for _, want := range pref.Versions {
				if want.Equal(n.Versions[i].Version) {
					matched = true
				}
			}
			if !matched {
				other = append(other, i)
			}
		}
		if len(other) < len(n.Versions) && len(other) > 0 {
			c.Cost(1, with(p.In(n.Version, other...))...)
		}
	}
	if pref.Variants != nil {
		for _, name := range pref.Variants.VariantNames() {
			if v := n.variants[name]; v != nil {
				scope := with()
				if v.Conditional {
					scope = append(scope, p.True(v.Defined))
				}
				e.variantCost(c, v, pref.Variants.Variants[name].Values, scope)
			}
		}
	}
	if len(pref.Compilers) > 0 {
		var other []int
		for i, comp := range n.Compilers {
			matched := false
			for _, raw := range pref.Compilers {
				if cs, err := parseCompilerSpec(raw); err == nil && comp.Satisfies(cs) {
					matched = true
				}
			}
			if !matched {
				other = append(other, i)
			}
		}
		if len(other) > 0 && len(other) < len(n.Compilers) {
			c.Cost(1, with(p.In(n.Compiler, other...))...)
		}
	}
	if len(pref.Targets) > 0 {
		var other []int
		for i, a := range n.Archs {
			if !contains(pref.Targets, a.Target) {
				other = append(other, i)
			}
		}
		if len(other) > 0 && len(other) < len(n.Archs) {
			c.Cost(1, with(p.In(n.Arch, other...))...)
		}
	}
}

type defaultGroup struct {
	defaults []string
	versions []int
}

// defaultGroups groups the versions declaring a variant by its defaults.
func defaultGroups(info *variantInfo) []defaultGroup {
	var out []defaultGroup
	index := make(map[string]int)
	for i, d := range info.defs {
		if d.Name == "" {
			continue
		}
		key := ""
		for _, v := range d.Default {
			key += v + "\x00"
		}
		j, ok := index[key]
		if !ok {
			j = len(out)
			index[key] = j
			out = append(out, defaultGroup{defaults: d.Default})
		}
		out[j].versions = append(out[j].versions, i)
	}
	return out
}
