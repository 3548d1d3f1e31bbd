package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/metrics"
	"github.com/vjranagit/spack-sub003/internal/repo"
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

func pkg(name string, vs []string, deps ...string) *repo.Package {
	p := &repo.Package{Name: name, Versions: versions(vs...)}
	for _, d := range deps {
		p.Dependencies = append(p.Dependencies, repo.DependencyRule{Spec: spec.MustParse(d)})
	}
	return p
}

func newRepo(t *testing.T, pkgs ...*repo.Package) *repo.Repository {
	t.Helper()
	r, err := repo.New(pkgs...)
	if err != nil {
		t.Fatalf("repo.New: %v", err)
	}
	return r
}

func specs(t *testing.T, raw ...string) []*spec.Spec {
	t.Helper()
	out := make([]*spec.Spec, len(raw))
	for i, s := range raw {
		parsed, err := spec.Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		out[i] = parsed
	}
	return out
}

func resolve(t *testing.T, r Resolver, raw ...string) Plan {
	t.Helper()
	plan, err := r.Resolve(context.Background(), Input{Specs: specs(t, raw...)})
	if err != nil {
		t.Fatalf("Resolve(%v): %v", raw, err)
	}
	return plan
}

func TestDefaultResolver_PrefersNewestInRange(t *testing.T) {
	r := NewDefault(newRepo(t, pkg("libelf", []string{"0.8.19", "0.8.15", "0.8.13", "0.8.10"})), nil)

	plan := resolve(t, r, "libelf@0.8.13:0.8.19")
	if got := plan.Roots[0].Version.String(); got != "0.8.19" {
		t.Fatalf("expected libelf@0.8.19, got %s", got)
	}
	if len(plan.Diagnostics.Solves) != 1 || !plan.Diagnostics.Solves[0].Optimal {
		t.Fatalf("expected one optimal solve, got %+v", plan.Diagnostics.Solves)
	}
	if plan.Diagnostics.RequestID == "" {
		t.Fatal("expected a request id")
	}
}

func TestDefaultResolver_ExplainsInfeasibleRequest(t *testing.T) {
	r := NewDefault(newRepo(t,
		pkg("a", []string{"1.0"}, "b@2.0:"),
		pkg("b", []string{"2.1", "2.0", "1.0"}),
	), nil)

	_, err := r.Resolve(context.Background(), Input{Specs: specs(t, "a ^b@1.0")})
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected ErrInfeasible, got %v", err)
	}
	var ie *InfeasibleError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InfeasibleError, got %T", err)
	}
	if !ie.Minimal {
		t.Fatal("expected a minimal conflict set")
	}
	want := []string{
		"a depends on b@2.0: (package rule)",
		"request requires b@1.0",
	}
	got := append([]string(nil), ie.Explanation()...)
	if len(got) == 2 && got[0] > got[1] {
		got[0], got[1] = got[1], got[0]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("explanation mismatch (-want +got):\n%s", diff)
	}
	for _, c := range ie.Conflicts {
		if c.Kind == "package" && c.Rule != "a/depends_on/0" {
			t.Fatalf("unexpected rule id %q", c.Rule)
		}
	}
}

func TestDefaultResolver_ContradictoryRootsAreInfeasible(t *testing.T) {
	r := NewDefault(newRepo(t, pkg("a", []string{"2.0", "1.0"})), nil)
	_, err := r.Resolve(context.Background(), Input{Specs: specs(t, "a@1.0", "a@2.0")})
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected ErrInfeasible, got %v", err)
	}
}

func TestDefaultResolver_VirtualEdgeFollowsRequest(t *testing.T) {
	r := newRepo(t,
		pkg("pkg", []string{"1.0"}, "mpi"),
		&repo.Package{Name: "mpich", Versions: versions("4.1"), Provides: []repo.Provided{{Virtual: spec.MustParse("mpi")}}},
		&repo.Package{Name: "openmpi", Versions: versions("5.0"), Provides: []repo.Provided{{Virtual: spec.MustParse("mpi")}}},
	)
	policy := config.Default()
	policy.Providers["mpi"] = []string{"openmpi"}
	res := NewDefault(r, policy)

	plan := resolve(t, res, "pkg")
	if _, ok := plan.Roots[0].Edge("openmpi"); !ok {
		t.Fatalf("expected the preferred provider, got:\n%s", plan.Roots[0].Tree())
	}

	plan = resolve(t, res, "pkg ^[virtuals=mpi] mpich")
	e, ok := plan.Roots[0].Edge("mpich")
	if !ok {
		t.Fatalf("expected an edge to mpich, got:\n%s", plan.Roots[0].Tree())
	}
	if diff := cmp.Diff([]string{"mpi"}, e.Virtuals); diff != "" {
		t.Fatalf("virtuals mismatch (-want +got):\n%s", diff)
	}
	if len(plan.Graph.Find("openmpi")) != 0 {
		t.Fatal("openmpi must not be in the graph")
	}
}

func TestDefaultResolver_Unreachable(t *testing.T) {
	r := NewDefault(newRepo(t, pkg("a", []string{"1.0"}, "ghost")), nil)
	for _, s := range []string{"nope", "a"} {
		_, err := r.Resolve(context.Background(), Input{Specs: specs(t, s)})
		if !errors.Is(err, ErrUnreachable) {
			t.Fatalf("%s: expected ErrUnreachable, got %v", s, err)
		}
	}
}

func TestDefaultResolver_TimeoutIsDistinct(t *testing.T) {
	r := newRepo(t, &repo.Package{
		Name:     "a",
		Versions: versions("3.0", "2.0", "1.0"),
		Variants: []repo.VariantDef{
			{Name: "x", Default: []string{"true"}},
			{Name: "y", Default: []string{"false"}},
		},
	})
	policy := config.Default()
	policy.MaxNodes = 1
	_, err := NewDefault(r, policy).Resolve(context.Background(), Input{Specs: specs(t, "a")})
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected only ErrTimeout, got %v", err)
	}

	policy.AcceptSuboptimal = true
	plan, err := NewDefault(r, policy).Resolve(context.Background(), Input{Specs: specs(t, "a")})
	if err == nil && plan.Diagnostics.Solves[0].Optimal {
		t.Fatal("a budget-limited plan cannot be optimal")
	}
	if err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDefaultResolver_IsDeterministic(t *testing.T) {
	build := func() *DefaultResolver {
		return NewDefault(newRepo(t,
			pkg("app", []string{"1.0"}, "zlib", "cmake"),
			pkg("cmake", []string{"3.27", "3.26"}, "zlib"),
			pkg("zlib", []string{"1.3", "1.2.13"}),
		), nil)
	}
	a := resolve(t, build(), "app")
	b := resolve(t, build(), "app")
	if diff := cmp.Diff(a.Graph.Document(), b.Graph.Document()); diff != "" {
		t.Fatalf("two runs differ (-first +second):\n%s", diff)
	}
}

func TestDefaultResolver_ReusesInstalled(t *testing.T) {
	r := newRepo(t,
		pkg("app", []string{"1.0"}, "zlib"),
		pkg("zlib", []string{"1.3", "1.2.13"}),
	)
	res := NewDefault(r, nil)
	old := resolve(t, res, "zlib@1.2.13").Roots[0]

	plan, err := res.Resolve(context.Background(), Input{Specs: specs(t, "app"), Installed: []*spec.Node{old}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	e, _ := plan.Roots[0].Edge("zlib")
	if e.Child != old {
		t.Fatalf("expected installed zlib %s, got %s", old.ShortHash(), e.Child.ShortHash())
	}

	policy := config.Default()
	policy.Reuse = false
	plan, err = NewDefault(r, policy).Resolve(context.Background(), Input{Specs: specs(t, "app"), Installed: []*spec.Node{old}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	e, _ = plan.Roots[0].Edge("zlib")
	if e.Child.Version.String() != "1.3" {
		t.Fatalf("expected a fresh zlib@1.3 without reuse, got %s", e.Child.Format())
	}
}

func TestDefaultResolver_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := NewDefault(newRepo(t, pkg("a", []string{"1.0"})), nil, WithMetrics(m))
	resolve(t, r, "a")
	if _, err := r.Resolve(context.Background(), Input{Specs: specs(t, "missing")}); err == nil {
		t.Fatal("expected an error")
	}
	n, err := testutil.GatherAndCount(reg, "concretizer_resolutions_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected solved and unreachable series, got %d", n)
	}
}

func TestResolveAll_PreservesOrder(t *testing.T) {
	r := NewDefault(newRepo(t,
		pkg("a", []string{"1.0"}),
		pkg("b", []string{"2.0", "1.0"}),
	), nil)
	inputs := []Input{
		{Specs: specs(t, "b@1.0")},
		{Specs: specs(t, "ghost")},
		{Specs: specs(t, "a")},
		{Specs: specs(t, "b")},
	}
	results, err := ResolveAll(context.Background(), r, inputs, 2)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}
	if got := results[0].Plan.Roots[0]; got.Name != "b" || got.Version.String() != "1.0" {
		t.Fatalf("unexpected first result %s", got.Format())
	}
	if !errors.Is(results[1].Err, ErrUnreachable) {
		t.Fatalf("expected the second input to be unreachable, got %v", results[1].Err)
	}
	if results[2].Plan.Roots[0].Name != "a" || results[3].Plan.Roots[0].Version.String() != "2.0" {
		t.Fatal("results out of order")
	}
}
