// Package metrics holds the prometheus collectors of the concretizer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vjranagit/spack-sub003/internal/solver"
)

// Outcome labels of concretizer_resolutions_total.
const (
	OutcomeSolved       = "solved"
	OutcomeUnreachable  = "unreachable"
	OutcomeInfeasible   = "infeasible"
	OutcomeTimeout      = "timeout"
	OutcomeInconsistent = "inconsistent"
	OutcomeError        = "error"
)

// Recorder records resolutions. A nil Recorder records nothing.
type Recorder struct {
	resolutions *prometheus.CounterVec
	duration    prometheus.Histogram
	searchNodes prometheus.Histogram
	backtracks  prometheus.Counter
	variables   prometheus.Histogram
}

// New returns unregistered collectors.
func New() *Recorder {
	return &Recorder{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concretizer_resolutions_total",
				Help: "Number of resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "concretizer_resolution_duration_seconds",
				Help:    "Time taken to resolve a request.",
				Buckets: prometheus.DefBuckets,
			},
		),
		searchNodes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "concretizer_solver_search_nodes",
				Help:    "Branching decisions made by one solve.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		backtracks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "concretizer_solver_backtracks_total",
				Help: "Total number of solver backtracks.",
			},
		),
		variables: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "concretizer_problem_variables",
				Help:    "Variables in one compiled problem.",
				Buckets: prometheus.ExponentialBuckets(16, 4, 8),
			},
		),
	}
}

// Register adds every collector to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.resolutions, r.duration, r.searchNodes, r.backtracks, r.variables} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Resolution records one finished request.
func (r *Recorder) Resolution(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(outcome).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Solve records one solver run over a problem with vars variables.
func (r *Recorder) Solve(vars int, stats solver.Stats) {
	if r == nil {
		return
	}
	r.variables.Observe(float64(vars))
	r.searchNodes.Observe(float64(stats.Nodes))
	r.backtracks.Add(float64(stats.Backtracks))
}
