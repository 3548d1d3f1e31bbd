package compile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

func versions(raw ...string) []repo.VersionInfo {
	out := make([]repo.VersionInfo, len(raw))
	for i, r := range raw {
		out[i] = repo.VersionInfo{Version: version.MustParse(r)}
	}
	return out
}

func dep(s string) repo.DependencyRule { return repo.DependencyRule{Spec: spec.MustParse(s)} }

func depWhen(s, when string) repo.DependencyRule {
	return repo.DependencyRule{Spec: spec.MustParse(s), When: spec.MustParse(when)}
}

func boolVariant(name string, def bool) repo.VariantDef {
	d := "false"
	if def {
		d = "true"
	}
	return repo.VariantDef{Name: name, Default: []string{d}}
}

func newRepo(t *testing.T, pkgs ...*repo.Package) *repo.Repository {
	t.Helper()
	r, err := repo.New(pkgs...)
	require.NoError(t, err)
	return r
}

func compile(t *testing.T, r repo.Oracle, policy *config.Policy, roots ...string) (*Program, error) {
	t.Helper()
	if policy == nil {
		policy = config.Default()
	}
	in := Input{}
	for _, raw := range roots {
		in.Roots = append(in.Roots, spec.MustParse(raw))
	}
	return Compile(context.Background(), r, policy, in)
}

func solve(t *testing.T, prog *Program) solver.Result {
	t.Helper()
	return solver.Solve(context.Background(), prog.Problem, solver.Options{Validate: prog.Acyclic})
}

func mustSolve(t *testing.T, r repo.Oracle, policy *config.Policy, roots ...string) (*Program, *solver.Model) {
	t.Helper()
	prog, err := compile(t, r, policy, roots...)
	require.NoError(t, err)
	res := solve(t, prog)
	require.Equal(t, solver.Solved, res.Status)
	return prog, res.Model
}

func present(m *solver.Model, prog *Program, name string) bool {
	n := prog.Node(name)
	return n != nil && m.Bool(n.Present)
}

func TestPrefersNewestVersionInRange(t *testing.T) {
	r := newRepo(t, &repo.Package{Name: "libelf", Versions: versions("0.8.19", "0.8.15", "0.8.13", "0.8.10")})
	prog, m := mustSolve(t, r, nil, "libelf@0.8.13:0.8.19")
	assert.Equal(t, "0.8.19", m.Label(prog.Node("libelf").Version))

	prog, m = mustSolve(t, r, nil, "libelf@:0.8.15")
	assert.Equal(t, "0.8.15", m.Label(prog.Node("libelf").Version))
}

func TestDeprecatedAndPreferredVersions(t *testing.T) {
	vs := versions("2.0", "1.5", "1.0")
	vs[0].Deprecated = true
	vs[2].Preferred = true
	r := newRepo(t, &repo.Package{Name: "a", Versions: vs})
	prog, m := mustSolve(t, r, nil, "a")
	assert.Equal(t, "1.0", m.Label(prog.Node("a").Version))

	prog, m = mustSolve(t, r, nil, "a@2.0")
	assert.Equal(t, "2.0", m.Label(prog.Node("a").Version))
}

func TestConditionalDependency(t *testing.T) {
	r := newRepo(t,
		&repo.Package{
			Name:         "a",
			Versions:     versions("1.0"),
			Variants:     []repo.VariantDef{boolVariant("b", false)},
			Dependencies: []repo.DependencyRule{depWhen("b", "+b")},
		},
		&repo.Package{Name: "b", Versions: versions("1.0")},
	)
	prog, m := mustSolve(t, r, nil, "a")
	assert.False(t, present(m, prog, "b"))
	assert.Equal(t, "false", m.Label(prog.Node("a").Variant("b").Var))

	prog, m = mustSolve(t, r, nil, "a+b")
	assert.True(t, present(m, prog, "b"))
	assert.True(t, m.Bool(prog.Node("a").Edge("b").Var))
}

func TestDependencyVersionConstraint(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("b@:1.5")}},
		&repo.Package{Name: "b", Versions: versions("2.0", "1.5", "1.0")},
	)
	prog, m := mustSolve(t, r, nil, "a")
	assert.Equal(t, "1.5", m.Label(prog.Node("b").Version))
}

func TestVirtualProviderSelection(t *testing.T) {
	pkgs := func() []*repo.Package {
		return []*repo.Package{
			{Name: "pkg", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("mpi")}},
			{Name: "mpich", Versions: versions("4.1"), Provides: []repo.Provided{{Virtual: spec.MustParse("mpi@:3")}}},
			{Name: "openmpi", Versions: versions("5.0"), Provides: []repo.Provided{{Virtual: spec.MustParse("mpi@:4")}}},
		}
	}
	r := newRepo(t, pkgs()...)
	prog, m := mustSolve(t, r, nil, "pkg")
	mpi := prog.Virtual("mpi")
	require.NotNil(t, mpi)
	assert.Equal(t, "mpich", m.Label(mpi.Provider))
	assert.True(t, present(m, prog, "mpich"))
	assert.False(t, present(m, prog, "openmpi"))

	policy := config.Default()
	policy.Providers["mpi"] = []string{"openmpi"}
	prog, m = mustSolve(t, newRepo(t, pkgs()...), policy, "pkg")
	assert.Equal(t, "openmpi", m.Label(prog.Virtual("mpi").Provider))

	prog, m = mustSolve(t, newRepo(t, pkgs()...), nil, "pkg ^[virtuals=mpi] openmpi")
	assert.Equal(t, "openmpi", m.Label(prog.Virtual("mpi").Provider))
	assert.False(t, present(m, prog, "mpich"))

	prog, m = mustSolve(t, newRepo(t, pkgs()...), nil, "pkg ^mpi@4")
	assert.Equal(t, "openmpi", m.Label(prog.Virtual("mpi").Provider))
}

func TestConflictForbidsCombination(t *testing.T) {
	r := newRepo(t,
		&repo.Package{
			Name:      "a",
			Versions:  versions("2.0", "1.0"),
			Variants:  []repo.VariantDef{boolVariant("x", true)},
			Conflicts: []repo.ConflictRule{{Spec: spec.MustParse("+x"), When: spec.MustParse("@2.0")}},
		},
	)
	prog, m := mustSolve(t, r, nil, "a")
	a := prog.Node("a")
	// Version outranks variant defaults.
	assert.Equal(t, "2.0", m.Label(a.Version))
	assert.Equal(t, "false", m.Label(a.Variant("x").Var))

	prog, err := compile(t, r, nil, "a@2.0+x")
	require.NoError(t, err)
	assert.Equal(t, solver.Infeasible, solve(t, prog).Status)
}

func TestRequirementPolicies(t *testing.T) {
	build := func(policy repo.Policy) *repo.Repository {
		return newRepo(t, &repo.Package{
			Name:     "a",
			Versions: versions("3.0", "2.0", "1.0"),
			Requirements: []repo.RequirementRule{{
				Policy: policy,
				Specs:  []*spec.Spec{spec.MustParse("@1.0"), spec.MustParse("@2.0")},
			}},
		})
	}
	prog, m := mustSolve(t, build(repo.OneOf), nil, "a")
	assert.Equal(t, "1.0", m.Label(prog.Node("a").Version))

	cfg := config.Default()
	criteria, err := config.OrderCriteria([]string{config.CriterionVersion})
	require.NoError(t, err)
	cfg.Criteria = criteria
	prog, m = mustSolve(t, build(repo.AnyOf), cfg, "a")
	assert.Equal(t, "2.0", m.Label(prog.Node("a").Version))

	prog, err = compile(t, build(repo.ExactlyOne), nil, "a@3.0")
	require.NoError(t, err)
	assert.Equal(t, solver.Infeasible, solve(t, prog).Status)
}

func TestConditionalVariant(t *testing.T) {
	r := newRepo(t, &repo.Package{
		Name:     "a",
		Versions: versions("2.0", "1.0"),
		Variants: []repo.VariantDef{
			boolVariant("mpi", false),
			{Name: "fabrics", Default: []string{"none"}, Values: []string{"none", "ofi", "ucx"}, Multi: true, When: spec.MustParse("+mpi")},
		},
	})
	prog, m := mustSolve(t, r, nil, "a")
	fab := prog.Node("a").Variant("fabrics")
	require.NotNil(t, fab)
	assert.True(t, fab.Conditional)
	assert.False(t, m.Bool(fab.Defined))

	prog, m = mustSolve(t, r, nil, "a+mpi fabrics=ucx")
	fab = prog.Node("a").Variant("fabrics")
	assert.True(t, m.Bool(fab.Defined))
	assert.True(t, m.Bool(fab.Flags[fab.index("ucx")]))
}

func TestCycleIsRejected(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("b")}},
		&repo.Package{Name: "b", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("a")}},
	)
	prog, err := compile(t, r, nil, "a")
	require.NoError(t, err)
	res := solve(t, prog)
	assert.Equal(t, solver.Infeasible, res.Status)
	assert.Positive(t, res.Stats.Rejected)
}

func TestUnreachable(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("mpi")}},
		&repo.Package{Name: "b", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("missing")}},
		&repo.Package{Name: "c", Versions: versions("1.0")},
		&repo.Package{Name: "mpich", Versions: versions("1.0"), Provides: []repo.Provided{{Virtual: spec.MustParse("mpi")}}},
	)
	cases := map[string]string{
		"nope":   "unknown package",
		"mpi":    "is a virtual package",
		"b":      "unknown package",
		"a ^c":   "no dependency of a can provide it",
		"a ^zzz": "unknown package",
	}
	for root, reason := range cases {
		_, err := compile(t, r, nil, root)
		var ue *UnreachableError
		require.True(t, errors.As(err, &ue), "%s: %v", root, err)
		assert.Equal(t, reason, ue.Reason, root)
	}

	_, err := compile(t, r, nil, "a ^mpich")
	assert.NoError(t, err)
}

func TestImpossibleConditionsAreNotExpanded(t *testing.T) {
	r := newRepo(t,
		&repo.Package{
			Name:         "a",
			Versions:     versions("1.0"),
			Dependencies: []repo.DependencyRule{depWhen("missing", "+nosuchvariant")},
		},
	)
	prog, err := compile(t, r, nil, "a")
	require.NoError(t, err)
	assert.Nil(t, prog.Node("missing"))
}

func TestGroupsDescribeTheirSource(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("b@2.0:")}},
		&repo.Package{Name: "b", Versions: versions("2.1", "2.0", "1.0")},
	)
	prog, err := compile(t, r, nil, "a ^b@1.0")
	require.NoError(t, err)
	var labels []string
	for _, g := range prog.Problem.Groups() {
		labels = append(labels, g.Label)
		_, ok := g.Data.(Source)
		assert.True(t, ok)
	}
	assert.Contains(t, labels, "a depends on b@2.0:")
	assert.Contains(t, labels, "request requires b@1.0")
	assert.Equal(t, solver.Infeasible, solve(t, prog).Status)
}

func TestReuseFixesInstalledSubtree(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.1", "1.0"), Dependencies: []repo.DependencyRule{dep("b")}},
		&repo.Package{Name: "b", Versions: versions("2.0", "1.0")},
	)
	compiler, err := spec.ParseCompiler(config.DefaultCompiler)
	require.NoError(t, err)
	arch, err := spec.ParseArch(config.DefaultPlatform)
	require.NoError(t, err)
	b := &spec.Node{Name: "b", Version: version.MustParse("1.0"), Compiler: compiler, Arch: arch}
	b.Seal()
	a := &spec.Node{Name: "a", Version: version.MustParse("1.0"), Compiler: compiler, Arch: arch,
		Edges: []spec.Edge{{Child: b, Types: spec.DefaultDepTypes}}}
	a.Seal()

	prog, err := Compile(context.Background(), r, config.Default(), Input{
		Roots:     []*spec.Spec{spec.MustParse("a")},
		Installed: []*spec.Node{a},
	})
	require.NoError(t, err)
	res := solve(t, prog)
	require.Equal(t, solver.Solved, res.Status)
	assert.Equal(t, a.Hash(), res.Model.Label(prog.Node("a").Origin))
	assert.Equal(t, b.Hash(), res.Model.Label(prog.Node("b").Origin))
	assert.Equal(t, "1.0", res.Model.Label(prog.Node("b").Version))

	policy := config.Default()
	policy.Reuse = false
	prog, err = Compile(context.Background(), r, policy, Input{
		Roots:     []*spec.Spec{spec.MustParse("a")},
		Installed: []*spec.Node{a},
	})
	require.NoError(t, err)
	res = solve(t, prog)
	require.Equal(t, solver.Solved, res.Status)
	assert.Equal(t, "1.1", res.Model.Label(prog.Node("a").Version))
	assert.Equal(t, "build", res.Model.Label(prog.Node("a").Origin))
}

func TestConfigRequireIsHard(t *testing.T) {
	r := newRepo(t, &repo.Package{Name: "a", Versions: versions("2.0", "1.0")})
	policy := config.Default()
	policy.Packages["a"] = config.PackagePolicy{Require: spec.MustParse("@1.0")}
	prog, m := mustSolve(t, r, policy, "a")
	assert.Equal(t, "1.0", m.Label(prog.Node("a").Version))

	prog, err := compile(t, r, policy, "a@2.0")
	require.NoError(t, err)
	assert.Equal(t, solver.Infeasible, solve(t, prog).Status)
}

func TestCriteriaFollowPolicyOrder(t *testing.T) {
	r := newRepo(t, &repo.Package{Name: "a", Versions: versions("1.0")})
	policy := config.Default()
	criteria, err := config.OrderCriteria([]string{config.CriterionNodes, config.CriterionVersion})
	require.NoError(t, err)
	policy.Criteria = criteria
	prog, err := compile(t, r, policy, "a")
	require.NoError(t, err)
	got := prog.Problem.Criteria()
	require.Len(t, got, len(config.DefaultCriteria))
	assert.Equal(t, []string{config.CriterionNodes, config.CriterionVersion}, got[:2])
}

func TestDependencyConditionReachesTwoHops(t *testing.T) {
	r := newRepo(t,
		&repo.Package{
			Name:     "a",
			Versions: versions("1.0"),
			Dependencies: []repo.DependencyRule{
				dep("b"),
				depWhen("x", "^c"),
				depWhen("y", "^b ^c+shared"),
				depWhen("z", "^[deptypes=link] c"),
			},
		},
		&repo.Package{Name: "b", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("c")}},
		&repo.Package{Name: "c", Versions: versions("1.0"), Variants: []repo.VariantDef{boolVariant("shared", true)}},
		&repo.Package{Name: "x", Versions: versions("1.0")},
		&repo.Package{Name: "y", Versions: versions("1.0")},
		&repo.Package{Name: "z", Versions: versions("1.0")},
	)
	prog, m := mustSolve(t, r, nil, "a")
	assert.True(t, present(m, prog, "c"))
	assert.True(t, present(m, prog, "x"), "c is reached through b")
	assert.True(t, present(m, prog, "y"), "c resolved +shared")
	assert.False(t, present(m, prog, "z"), "a qualified dependency needs a direct edge")

	prog, m = mustSolve(t, r, nil, "a ^c~shared")
	assert.True(t, present(m, prog, "x"))
	assert.False(t, present(m, prog, "y"))
}

func TestRequestedMultiValueReplacesDefaults(t *testing.T) {
	r := newRepo(t, &repo.Package{
		Name:     "a",
		Versions: versions("1.0"),
		Variants: []repo.VariantDef{
			{Name: "langs", Default: []string{"c", "cxx"}, Values: []string{"c", "cxx", "fortran"}, Multi: true},
		},
	})
	set := func(m *solver.Model, v *Variant) []string {
		var out []string
		for i, f := range v.Flags {
			if m.Bool(f) {
				out = append(out, v.Values[i])
			}
		}
		return out
	}

	prog, m := mustSolve(t, r, nil, "a")
	assert.Equal(t, []string{"c", "cxx"}, set(m, prog.Node("a").Variant("langs")))

	prog, m = mustSolve(t, r, nil, "a langs=fortran")
	assert.Equal(t, []string{"fortran"}, set(m, prog.Node("a").Variant("langs")))

	prog, m = mustSolve(t, r, nil, "a langs=c,fortran")
	assert.Equal(t, []string{"c", "fortran"}, set(m, prog.Node("a").Variant("langs")))
}

// failingOracle reports malformed dependency metadata for one package.
type failingOracle struct {
	*repo.Repository
	name string
}

func (o failingOracle) DependencyRules(name string, v version.Version) ([]repo.DependencyRule, error) {
	if name == o.name {
		return nil, errors.New("malformed depends_on directive")
	}
	return o.Repository.DependencyRules(name, v)
}

func TestOracleFailureIsUnreachable(t *testing.T) {
	r := newRepo(t,
		&repo.Package{Name: "a", Versions: versions("1.0"), Dependencies: []repo.DependencyRule{dep("b")}},
		&repo.Package{Name: "b", Versions: versions("1.0")},
	)
	_, err := compile(t, failingOracle{Repository: r, name: "b"}, nil, "a")
	var ue *UnreachableError
	require.True(t, errors.As(err, &ue), "%v", err)
	assert.Equal(t, "b", ue.Name)
	assert.Equal(t, "malformed depends_on directive", ue.Reason)
	assert.Contains(t, ue.Source, "a")
}
