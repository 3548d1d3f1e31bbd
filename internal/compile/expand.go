package compile

import (
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// nodeInfo is everything expansion learned about one possible node.
type nodeInfo struct {
	name   string
	root   bool
	source string

	// versions is in preference order; the first declared entries come from
	// the repository, the rest only exist as installed specs.
	versions []repo.VersionInfo
	declared int

	variants  []*variantInfo
	deps      []*ruleUse
	conflicts []repo.ConflictRule
	requires  []repo.RequirementRule
	reuse     []*spec.Node
}

// variantInfo merges the declarations of one variant across the versions of
// a node.
type variantInfo struct {
	name   string
	multi  bool
	values []string
	// defs is indexed by version; an unset Name means undeclared there.
	defs []repo.VariantDef
}

func (v *variantInfo) conditional() bool {
	for _, d := range v.defs {
		if d.Name == "" || hasNodeCondition(d.When) {
			return true
		}
	}
	return false
}

// ruleUse is a dependency rule and the version indexes at which the
// repository reports it.
type ruleUse struct {
	rule     repo.DependencyRule
	versions []int
}

type virtualInfo struct {
	name      string
	providers []string
	rules     map[string][]repo.ProviderRule
}

type ruleKey struct {
	node, rule string
}

type expander struct {
	oracle repo.Oracle
	policy *config.Policy

	nodes  map[string]*nodeInfo
	order  []*nodeInfo
	virts  map[string]*virtualInfo
	vorder []*virtualInfo
	queue  []*nodeInfo
	// applied memoizes rule expansion per node.
	applied map[ruleKey]bool

	installed map[string][]*spec.Node
	compat    map[*spec.Node]bool

	compilers  []spec.Compiler
	configured int
	archs      []spec.Arch
	platforms  int
}

func newExpander(oracle repo.Oracle, policy *config.Policy) *expander {
	return &expander{
		oracle:    oracle,
		policy:    policy,
		nodes:     make(map[string]*nodeInfo),
		virts:     make(map[string]*virtualInfo),
		applied:   make(map[ruleKey]bool),
		installed: make(map[string][]*spec.Node),
		compat:    make(map[*spec.Node]bool),
	}
}

func (x *expander) expand(in Input) error {
	if x.policy.Reuse {
		if err := x.collectInstalled(in.Installed); err != nil {
			return err
		}
	}
	x.domains()

	for _, r := range in.Roots {
		if r.Name == "" {
			return &UnreachableError{Name: r.String(), Source: "request", Reason: "root spec has no package name"}
		}
		if !x.oracle.Exists(r.Name) {
			return &UnreachableError{Name: r.Name, Source: "request", Reason: "unknown package"}
		}
		if x.oracle.IsVirtual(r.Name) {
			return &UnreachableError{Name: r.Name, Source: "request", Reason: "is a virtual package"}
		}
		n, err := x.node(r.Name, "request")
		if err != nil {
			return err
		}
		n.root = true
	}

	for len(x.queue) > 0 {
		n := x.queue[0]
		x.queue = x.queue[1:]
		if err := x.process(n); err != nil {
			return err
		}
	}

	for _, r := range in.Roots {
		for _, d := range r.Deps {
			name := d.Spec.Name
			if !x.oracle.Exists(name) {
				return &UnreachableError{Name: name, Source: "request " + r.String(), Reason: "unknown package"}
			}
			if x.nodes[name] == nil && x.virts[name] == nil {
				return &UnreachableError{Name: name, Source: "request " + r.String(), Reason: "no dependency of " + r.Name + " can provide it"}
			}
		}
	}
	return nil
}

// reference makes name part of the expansion, as a node or a virtual.
func (x *expander) reference(name, source string) error {
	if !x.oracle.Exists(name) {
		return &UnreachableError{Name: name, Source: source, Reason: "unknown package"}
	}
	if x.oracle.IsVirtual(name) {
		_, err := x.virtual(name, source)
		return err
	}
	_, err := x.node(name, source)
	return err
}

func (x *expander) node(name, source string) (*nodeInfo, error) {
	if n, ok := x.nodes[name]; ok {
		return n, nil
	}
	known, err := x.oracle.KnownVersions(name)
	if err != nil {
		return nil, x.oracleError(name, source, err)
	}
	n := &nodeInfo{name: name, source: source, reuse: x.installed[name]}
	n.versions = preferenceOrder(known, x.policy.Packages[name].Versions)
	n.declared = len(n.versions)
	for _, c := range n.reuse {
		if indexVersion(n.versions, c.Version) < 0 {
			n.versions = append(n.versions, repo.VersionInfo{Version: c.Version})
		}
	}
	if len(n.versions) == 0 {
		return nil, &UnreachableError{Name: name, Source: source, Reason: "no versions declared"}
	}
	if err := x.loadVariants(n); err != nil {
		return nil, err
	}
	x.nodes[name] = n
	x.order = append(x.order, n)
	x.queue = append(x.queue, n)
	return n, nil
}

func (x *expander) oracleError(name, source string, err error) error {
	if errors.Is(err, repo.ErrUnknownPackage) {
		return &UnreachableError{Name: name, Source: source, Reason: "unknown package"}
	}
	return &UnreachableError{Name: name, Source: source, Reason: err.Error()}
}

func (x *expander) loadVariants(n *nodeInfo) error {
	byName := make(map[string]*variantInfo)
	for i, vi := range n.versions {
		defs, err := x.oracle.Variants(n.name, vi.Version)
		if err != nil {
			return x.oracleError(n.name, n.source, err)
		}
		for _, name := range sortedKeys(defs) {
			d := defs[name]
			v, ok := byName[name]
			if !ok {
				v = &variantInfo{name: name, multi: d.Multi, defs: make([]repo.VariantDef, len(n.versions))}
				byName[name] = v
			}
			if v.multi != d.Multi {
				return fmt.Errorf("compile: %s: variant %s is multi-valued at some versions only", n.name, name)
			}
			v.defs[i] = d
		}
	}
	for _, name := range sortedKeys(byName) {
		v := byName[name]
		values := sets.New[string]()
		for _, d := range v.defs {
			values.Insert(d.Values...)
		}
		v.values = sets.List(values)
		n.variants = append(n.variants, v)
	}
	return nil
}

func (x *expander) virtual(name, source string) (*virtualInfo, error) {
	if v, ok := x.virts[name]; ok {
		return v, nil
	}
	rules, err := x.oracle.Providers(name)
	if err != nil {
		return nil, x.oracleError(name, source, err)
	}
	v := &virtualInfo{name: name, rules: make(map[string][]repo.ProviderRule)}
	for _, r := range rules {
		v.rules[r.Provider] = append(v.rules[r.Provider], r)
	}
	seen := sets.New[string]()
	for _, p := range x.policy.Providers[name] {
		if _, ok := v.rules[p]; ok && !seen.Has(p) {
			seen.Insert(p)
			v.providers = append(v.providers, p)
		}
	}
	for _, p := range sortedKeys(v.rules) {
		if !seen.Has(p) {
			seen.Insert(p)
			v.providers = append(v.providers, p)
		}
	}
	if len(v.providers) == 0 {
		return nil, &UnreachableError{Name: name, Source: source, Reason: "virtual package has no providers"}
	}
	x.virts[name] = v
	x.vorder = append(x.vorder, v)
	for _, p := range v.providers {
		if _, err := x.node(p, "provider of "+name); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (x *expander) process(n *nodeInfo) error {
	uses := make(map[string]*ruleUse)
	var ids []string
	for i, vi := range n.versions {
		rules, err := x.oracle.DependencyRules(n.name, vi.Version)
		if err != nil {
			return x.oracleError(n.name, n.source, err)
		}
		for _, r := range rules {
			u, ok := uses[r.ID]
			if !ok {
				u = &ruleUse{rule: r}
				uses[r.ID] = u
				ids = append(ids, r.ID)
			}
			u.versions = append(u.versions, i)
		}
	}
	for _, id := range ids {
		key := ruleKey{node: n.name, rule: id}
		if x.applied[key] {
			continue
		}
		x.applied[key] = true
		u := uses[id]
		if !x.mightHold(n, u.rule.When) {
			continue
		}
		source := n.name + " " + u.rule.String()
		if err := x.reference(u.rule.Spec.Name, source); err != nil {
			return err
		}
		for _, d := range u.rule.Spec.Deps {
			if err := x.reference(d.Spec.Name, source); err != nil {
				return err
			}
		}
		n.deps = append(n.deps, u)
	}

	var err error
	if n.conflicts, err = x.oracle.ConflictRules(n.name); err != nil {
		return x.oracleError(n.name, n.source, err)
	}
	if n.requires, err = x.oracle.RequirementRules(n.name); err != nil {
		return x.oracleError(n.name, n.source, err)
	}

	for _, c := range n.reuse {
		for _, e := range c.Edges {
			if _, err := x.node(e.Child.Name, "installed "+n.name+"/"+c.ShortHash()); err != nil {
				return err
			}
		}
	}
	return nil
}

// mightHold is a static check that when can hold on n for some assignment.
// Dependency constraints are assumed satisfiable.
func (x *expander) mightHold(n *nodeInfo, when *spec.Spec) bool {
	if when == nil {
		return true
	}
	if when.Name != "" && when.Name != n.name {
		return false
	}
	for _, name := range when.VariantNames() {
		want := when.Variants[name]
		ok := false
		for _, v := range n.variants {
			if v.name != name {
				continue
			}
			for _, d := range v.defs {
				if d.Name != "" && allows(d, want) {
					ok = true
					break
				}
			}
		}
		if !ok {
			return false
		}
	}
	if when.Compiler != nil {
		ok := false
		for _, c := range x.compilers {
			if c.Satisfies(*when.Compiler) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !when.Arch.IsZero() {
		for _, a := range x.archs {
			if a.Matches(when.Arch) {
				return true
			}
		}
		return false
	}
	return true
}

func allows(d repo.VariantDef, want spec.Variant) bool {
	if !d.Multi && len(want.Values) != 1 {
		return false
	}
	for _, v := range want.Values {
		if !d.Allows(v) {
			return false
		}
	}
	return true
}

// collectInstalled keeps the installed nodes that are still compatible with
// the repository, indexed by name and ordered by hash.
func (x *expander) collectInstalled(roots []*spec.Node) error {
	seen := make(map[string]bool)
	var err error
	for _, r := range roots {
		r.Traverse(func(n *spec.Node) bool {
			if seen[n.Hash()] {
				return true
			}
			seen[n.Hash()] = true
			var ok bool
			if ok, err = x.compatible(n); err != nil {
				return false
			}
			if ok {
				x.installed[n.Name] = append(x.installed[n.Name], n)
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	for _, ns := range x.installed {
		sort.Slice(ns, func(i, j int) bool { return ns[i].Hash() < ns[j].Hash() })
	}
	return nil
}

// compatible reports whether n and its subtree can still be described by
// the repository's recipes.
func (x *expander) compatible(n *spec.Node) (bool, error) {
	if ok, done := x.compat[n]; done {
		return ok, nil
	}
	ok, err := x.checkCompatible(n)
	if err != nil {
		return false, err
	}
	x.compat[n] = ok
	return ok, nil
}

func (x *expander) checkCompatible(n *spec.Node) (bool, error) {
	if !n.Sealed() || !x.oracle.Exists(n.Name) || x.oracle.IsVirtual(n.Name) {
		return false, nil
	}
	defs, err := x.oracle.Variants(n.Name, n.Version)
	if err != nil {
		return false, x.oracleError(n.Name, "installed", err)
	}
	for name, v := range n.Variants {
		d, ok := defs[name]
		if !ok || !allows(d, v) {
			return false, nil
		}
	}
	for _, e := range n.Edges {
		ok, err := x.compatible(e.Child)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// domains fixes the compiler and arch values shared by every node:
// configured values first, then values only installed specs use.
func (x *expander) domains() {
	seen := sets.New[string]()
	for _, c := range x.policy.Compilers {
		seen.Insert(c.String())
		x.compilers = append(x.compilers, c.Compiler)
	}
	x.configured = len(x.compilers)
	aseen := sets.New[string]()
	for _, a := range x.policy.Platforms {
		aseen.Insert(a.String())
		x.archs = append(x.archs, a)
	}
	x.platforms = len(x.archs)

	var extraC []spec.Compiler
	var extraA []spec.Arch
	for _, name := range sortedKeys(x.installed) {
		for _, n := range x.installed[name] {
			if s := n.Compiler.String(); !seen.Has(s) {
				seen.Insert(s)
				extraC = append(extraC, n.Compiler)
			}
			if s := n.Arch.String(); !aseen.Has(s) {
				aseen.Insert(s)
				extraA = append(extraA, n.Arch)
			}
		}
	}
	sort.Slice(extraC, func(i, j int) bool { return extraC[i].String() < extraC[j].String() })
	sort.Slice(extraA, func(i, j int) bool { return extraA[i].String() < extraA[j].String() })
	x.compilers = append(x.compilers, extraC...)
	x.archs = append(x.archs, extraA...)
}

// preferenceOrder sorts versions by how much they are wanted: configured
// preferences, then versions marked preferred, then the rest newest first
// with infinity versions, deprecated versions and git refs last.
func preferenceOrder(known []repo.VersionInfo, prefs []version.Version) []repo.VersionInfo {
	out := append([]repo.VersionInfo(nil), known...)
	pref := func(v version.Version) int {
		for i, p := range prefs {
			if p.Equal(v) {
				return i
			}
		}
		return len(prefs)
	}
	class := func(v repo.VersionInfo) int {
		switch {
		case v.Version.IsGit():
			return 4
		case v.Deprecated:
			return 3
		case v.Preferred:
			return 0
		case v.Version.IsInfinity():
			return 2
		}
		return 1
	}
	sort.SliceStable(out, func(i, j int) bool {
		if pi, pj := pref(out[i].Version), pref(out[j].Version); pi != pj {
			return pi < pj
		}
		return class(out[i]) < class(out[j])
	})
	return out
}

func indexVersion(vs []repo.VersionInfo, v version.Version) int {
	for i, x := range vs {
		if x.Version.Equal(v) && x.Version.String() == v.String() {
			return i
		}
	}
	return -1
}

// hasNodeCondition reports whether s constrains more than versions.
func hasNodeCondition(s *spec.Spec) bool {
	if s == nil {
		return false
	}
	return len(s.Variants) > 0 || s.Compiler != nil || !s.Arch.IsZero() || len(s.Deps) > 0
}
