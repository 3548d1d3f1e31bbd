package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/vjranagit/spack-sub003/internal/compile"
	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/graph"
	"github.com/vjranagit/spack-sub003/internal/materialize"
	"github.com/vjranagit/spack-sub003/internal/metrics"
	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/solver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// DefaultResolver compiles requests against a repository, solves them and
// materializes the result.
type DefaultResolver struct {
	oracle  repo.Oracle
	policy  *config.Policy
	metrics *metrics.Recorder
}

// Option configures a DefaultResolver.
type Option func(*DefaultResolver)

// WithMetrics records every resolution in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *DefaultResolver) { r.metrics = m }
}

// NewDefault returns a resolver over oracle. The oracle must be safe for
// concurrent reads; every request wraps it in its own cache.
func NewDefault(oracle repo.Oracle, policy *config.Policy, opts ...Option) *DefaultResolver {
	if policy == nil {
		policy = config.Default()
	}
	r := &DefaultResolver{oracle: oracle, policy: policy}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Policy returns the policy the resolver was built with.
func (r *DefaultResolver) Policy() *config.Policy { return r.policy }

// request is the state of one Resolve call.
type request struct {
	r         *DefaultResolver
	log       logr.Logger
	oracle    repo.Oracle
	installed []*spec.Node
	diag      *Diagnostics
}

func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (Plan, error) {
	start := time.Now()
	id := uuid.NewString()
	log := logr.FromContextOrDiscard(ctx).WithValues("request", id)
	ctx = logr.NewContext(ctx, log)

	mode := in.Unify
	if mode == "" {
		mode = r.policy.Unify
	}
	plan := Plan{Diagnostics: Diagnostics{RequestID: id, Unify: mode}}
	req := &request{r: r, log: log, oracle: repo.NewCache(r.oracle), diag: &plan.Diagnostics}
	if r.policy.Reuse {
		req.installed = in.Installed
	}

	roots, err := req.resolve(ctx, mode, in.Specs)
	if err == nil {
		plan.Graph, err = req.assemble(mode, roots)
	}
	elapsed := time.Since(start)
	r.metrics.Resolution(outcome(err), elapsed)
	if err != nil {
		log.V(1).Info("resolution failed", "specs", len(in.Specs), "elapsed", elapsed, "error", err.Error())
		return Plan{Diagnostics: plan.Diagnostics}, err
	}
	plan.Roots = roots
	log.V(1).Info("resolved", "specs", len(in.Specs), "nodes", plan.Graph.Len(), "solves", len(plan.Diagnostics.Solves),
		"elapsed", elapsed)
	return plan, nil
}

func (q *request) resolve(ctx context.Context, mode config.UnifyMode, specs []*spec.Spec) ([]*spec.Node, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("resolver: no specs")
	}
	switch mode {
	case config.UnifyFull:
		return q.solve(ctx, specs)
	case config.UnifyNone:
		out := make([]*spec.Node, 0, len(specs))
		for _, s := range specs {
			roots, err := q.solve(ctx, []*spec.Spec{s})
			if err != nil {
				return nil, err
			}
			out = append(out, roots[0])
		}
		return out, nil
	case config.UnifyWhenPossible:
		return q.whenPossible(ctx, specs)
	}
	return nil, fmt.Errorf("resolver: unknown unify mode %q", mode)
}

// whenPossible adds specs in order to one unified group. A spec that makes
// the group infeasible is solved on its own instead.
func (q *request) whenPossible(ctx context.Context, specs []*spec.Spec) ([]*spec.Node, error) {
	out := make([]*spec.Node, len(specs))
	var group []*spec.Spec
	var members []int
	for i, s := range specs {
		trial := append(append([]*spec.Spec(nil), group...), s)
		roots, err := q.solve(ctx, trial)
		switch {
		case err == nil:
			group = trial
			members = append(members, i)
			for j, m := range members {
				out[m] = roots[j]
			}
			continue
		case !errors.Is(err, ErrInfeasible) || len(group) == 0:
			return nil, err
		}
		q.log.V(1).Info("solving separately", "spec", s.String())
		q.diag.Separate = append(q.diag.Separate, s.String())
		alone, err := q.solve(ctx, []*spec.Spec{s})
		if err != nil {
			return nil, err
		}
		out[i] = alone[0]
	}
	return out, nil
}

// solve resolves specs as a single unified problem and returns the concrete
// root of each spec.
func (q *request) solve(ctx context.Context, specs []*spec.Spec) ([]*spec.Node, error) {
	policy := q.r.policy
	names := specNames(specs)
	log := q.log.WithValues("specs", names)

	prog, err := compile.Compile(logr.NewContext(ctx, log), q.oracle, policy, compile.Input{Roots: specs, Installed: q.installed})
	if err != nil {
		var ue *compile.UnreachableError
		if errors.As(err, &ue) {
			return nil, &UnreachableNodeError{Name: ue.Name, Source: ue.Source, Reason: ue.Reason}
		}
		return nil, err
	}

	opts := solver.Options{
		MaxNodes:         policy.MaxNodes,
		Timeout:          policy.Timeout,
		AcceptSuboptimal: policy.AcceptSuboptimal,
		Validate:         prog.Acyclic,
	}
	res := solver.Solve(ctx, prog.Problem, opts)
	q.r.metrics.Solve(prog.Problem.NumVars(), res.Stats)
	q.diag.Solves = append(q.diag.Solves, Solve{
		Specs:     names,
		Nodes:     len(prog.Nodes),
		Variables: prog.Problem.NumVars(),
		Clauses:   prog.Problem.NumClauses(),
		Cost:      res.Cost,
		Optimal:   res.Optimal,
		Stats:     res.Stats,
	})
	log.V(1).Info("solved", "status", res.Status.String(), "nodes", res.Stats.Nodes,
		"backtracks", res.Stats.Backtracks, "models", res.Stats.Models, "elapsed", res.Stats.Elapsed)

	switch res.Status {
	case solver.Infeasible:
		conflicts, minimal := explain(ctx, prog, opts, policy.ExplainMaxChecks)
		return nil, &InfeasibleError{Roots: names, Conflicts: conflicts, Minimal: minimal}
	case solver.Timeout:
		return nil, &TimeoutError{Roots: names, MaxNodes: policy.MaxNodes, Timeout: policy.Timeout, Stats: res.Stats}
	case solver.Solved:
	default:
		return nil, &InternalConsistencyError{Err: fmt.Errorf("solver returned %s", res.Status)}
	}

	g, err := materialize.Materialize(prog, res.Model)
	if err != nil {
		return nil, &InternalConsistencyError{Err: err}
	}
	byName := make(map[string]*spec.Node)
	for _, n := range g.Roots() {
		byName[n.Name] = n
	}
	out := make([]*spec.Node, len(specs))
	for i, s := range specs {
		n := byName[s.Name]
		if n == nil {
			return nil, &InternalConsistencyError{Err: fmt.Errorf("no concrete root for %s", s)}
		}
		if !spec.Satisfies(s, n) {
			return nil, &InternalConsistencyError{Err: fmt.Errorf("%s does not satisfy %s", n.Format(), s)}
		}
		if log.V(2).Enabled() {
			log.V(2).Info("root", "spec", s.String(), "hash", n.Hash(), "tree", n.Tree())
		}
		out[i] = n
	}
	return out, nil
}

// assemble builds the plan graph and checks unification.
func (q *request) assemble(mode config.UnifyMode, roots []*spec.Node) (*graph.Graph, error) {
	g, err := graph.New(roots...)
	if err != nil {
		return nil, &InternalConsistencyError{Err: err}
	}
	if mode == config.UnifyFull {
		if name, ok := g.Unified(); !ok {
			return nil, &InternalConsistencyError{Err: fmt.Errorf("package %s appears with different attributes", name)}
		}
	}
	return g, nil
}

func specNames(specs []*spec.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.String()
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSolved
	case errors.Is(err, ErrUnreachable):
		return metrics.OutcomeUnreachable
	case errors.Is(err, ErrInfeasible):
		return metrics.OutcomeInfeasible
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrInternalConsistency):
		return metrics.OutcomeInconsistent
	}
	return metrics.OutcomeError
}
