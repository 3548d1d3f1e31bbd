package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

func unifyResolver(t *testing.T) *DefaultResolver {
	t.Helper()
	return NewDefault(newRepo(t,
		pkg("app", []string{"1.0"}, "zlib"),
		pkg("tool", []string{"1.0"}, "zlib"),
		pkg("zlib", []string{"1.3", "1.2.13"}),
	), nil)
}

func zlibOf(t *testing.T, n *spec.Node) *spec.Node {
	t.Helper()
	e, ok := n.Edge("zlib")
	if !ok {
		t.Fatalf("%s has no zlib edge", n.Name)
	}
	return e.Child
}

func TestUnifyFull_SharesDependencies(t *testing.T) {
	r := unifyResolver(t)
	plan, err := r.Resolve(context.Background(), Input{Specs: specs(t, "app ^zlib@1.2", "tool"), Unify: config.UnifyFull})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(plan.Roots))
	}
	a, b := zlibOf(t, plan.Roots[0]), zlibOf(t, plan.Roots[1])
	if a != b {
		t.Fatalf("expected one shared zlib, got %s and %s", a.ShortHash(), b.ShortHash())
	}
	if got := a.Version.String(); got != "1.2.13" {
		t.Fatalf("expected zlib@1.2.13, got %s", got)
	}
	if diff := cmp.Diff([]string{"app", "tool", "zlib"}, plan.Graph.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if len(plan.Diagnostics.Solves) != 1 {
		t.Fatalf("expected a single solve, got %d", len(plan.Diagnostics.Solves))
	}
}

func TestUnifyNone_SolvesEachSpecAlone(t *testing.T) {
	r := unifyResolver(t)
	plan, err := r.Resolve(context.Background(), Input{Specs: specs(t, "app ^zlib@1.2", "tool"), Unify: config.UnifyNone})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := zlibOf(t, plan.Roots[1]).Version.String(); got != "1.3" {
		t.Fatalf("expected tool to get the newest zlib, got %s", got)
	}
	if n := len(plan.Graph.Find("zlib")); n != 2 {
		t.Fatalf("expected two zlib nodes, got %d", n)
	}
	if len(plan.Diagnostics.Solves) != 2 {
		t.Fatalf("expected one solve per spec, got %d", len(plan.Diagnostics.Solves))
	}
}

func TestUnifyWhenPossible_SplitsConflictingSpecs(t *testing.T) {
	r := unifyResolver(t)
	in := Input{Specs: specs(t, "app ^zlib@1.2", "tool ^zlib@1.3"), Unify: config.UnifyWhenPossible}

	plan, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"tool ^zlib@1.3"}, plan.Diagnostics.Separate); diff != "" {
		t.Fatalf("separate mismatch (-want +got):\n%s", diff)
	}
	if got := zlibOf(t, plan.Roots[0]).Version.String(); got != "1.2.13" {
		t.Fatalf("app: expected zlib@1.2.13, got %s", got)
	}
	if got := zlibOf(t, plan.Roots[1]).Version.String(); got != "1.3" {
		t.Fatalf("tool: expected zlib@1.3, got %s", got)
	}

	in.Unify = config.UnifyFull
	if _, err := r.Resolve(context.Background(), in); !errors.Is(err, ErrInfeasible) {
		t.Fatalf("full unification: expected ErrInfeasible, got %v", err)
	}
}

func TestUnifyWhenPossible_KeepsCompatibleSpecsTogether(t *testing.T) {
	r := unifyResolver(t)
	plan, err := r.Resolve(context.Background(), Input{Specs: specs(t, "app", "tool"), Unify: config.UnifyWhenPossible})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan.Diagnostics.Separate) != 0 {
		t.Fatalf("expected no separate specs, got %v", plan.Diagnostics.Separate)
	}
	if zlibOf(t, plan.Roots[0]) != zlibOf(t, plan.Roots[1]) {
		t.Fatal("expected a shared zlib")
	}
}

func TestResolve_RejectsEmptyInput(t *testing.T) {
	if _, err := unifyResolver(t).Resolve(context.Background(), Input{}); err == nil {
		t.Fatal("expected an error for an empty request")
	}
}
