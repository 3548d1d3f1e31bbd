package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vjranagit/spack-sub003/internal/solver"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New()
	if err := r.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Resolution(OutcomeSolved, 20*time.Millisecond)
	r.Resolution(OutcomeSolved, time.Millisecond)
	r.Resolution(OutcomeInfeasible, time.Millisecond)
	r.Solve(120, solver.Stats{Nodes: 40, Backtracks: 7})
	r.Solve(80, solver.Stats{Nodes: 10, Backtracks: 3})

	if got := testutil.ToFloat64(r.resolutions.WithLabelValues(OutcomeSolved)); got != 2 {
		t.Fatalf("expected 2 solved resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(r.resolutions.WithLabelValues(OutcomeInfeasible)); got != 1 {
		t.Fatalf("expected 1 infeasible resolution, got %v", got)
	}
	if got := testutil.ToFloat64(r.backtracks); got != 10 {
		t.Fatalf("expected 10 backtracks, got %v", got)
	}
	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 metric series, got %d", n)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := New().Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := New().Register(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Resolution(OutcomeTimeout, time.Second)
	r.Solve(1, solver.Stats{})
}
