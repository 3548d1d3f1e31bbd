package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/vjranagit/spack-sub003/internal/compile"
	"github.com/vjranagit/spack-sub003/internal/solver"
)

// explainer searches for a minimal set of clause groups that is unsatisfiable
// on its own, re-solving with the other groups disabled. Each re-solve stops
// at the first model.
type explainer struct {
	ctx    context.Context
	prog   *compile.Program
	opts   solver.Options
	all    []solver.GroupID
	checks int
	max    int
	// deadline bounds the whole search, not each re-solve.
	deadline time.Time
	// exhausted is set once a check could not be run or did not finish.
	exhausted bool
}

// explain returns the conflicting constraints of an infeasible program.
// minimal is false when the check budget ran out, in which case the result
// is still unsatisfiable but may hold constraints that are not needed. The
// search as a whole gets opts.Timeout.
func explain(ctx context.Context, prog *compile.Program, opts solver.Options, maxChecks int) (conflicts []Conflict, minimal bool) {
	groups := prog.Problem.Groups()
	x := &explainer{ctx: ctx, prog: prog, opts: opts, max: maxChecks}
	if opts.Timeout > 0 {
		x.deadline = time.Now().Add(opts.Timeout)
		var cancel context.CancelFunc
		x.ctx, cancel = context.WithDeadline(ctx, x.deadline)
		defer cancel()
	}
	x.opts.FirstModel = true
	x.opts.AcceptSuboptimal = false
	for _, g := range groups {
		x.all = append(x.all, g.ID)
	}

	// With every group disabled only structural clauses remain; an
	// infeasibility there has no explainable cause.
	if !x.consistent(nil) {
		return nil, !x.exhausted
	}
	core := x.quickXplain(nil, false, x.all)
	sort.Slice(core, func(i, j int) bool { return core[i] < core[j] })

	for _, id := range core {
		g := prog.Problem.Group(id)
		c := Conflict{Label: g.Label}
		if src, ok := g.Data.(compile.Source); ok {
			c.Kind, c.Package, c.Rule, c.Message = src.Kind, src.Package, src.Rule, src.Message
		}
		conflicts = append(conflicts, c)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("explained", "groups", len(groups), "conflicts", len(conflicts), "checks", x.checks)
	return conflicts, !x.exhausted
}

// quickXplain returns a subset of candidates that together with background
// is unsatisfiable. changed reports whether background grew since the last
// consistency check.
func (x *explainer) quickXplain(background []solver.GroupID, changed bool, candidates []solver.GroupID) []solver.GroupID {
	if changed && !x.consistent(background) {
		return nil
	}
	if len(candidates) <= 1 {
		return candidates
	}
	mid := len(candidates) / 2
	left, right := candidates[:mid], candidates[mid:]
	fromRight := x.quickXplain(union(background, left), len(left) > 0, right)
	fromLeft := x.quickXplain(union(background, fromRight), len(fromRight) > 0, left)
	return union(fromLeft, fromRight)
}

// consistent reports whether the problem is satisfiable with only the given
// groups enabled. When the budget is spent it answers true, which keeps
// candidates in the result.
func (x *explainer) consistent(enabled []solver.GroupID) bool {
	if x.checks >= x.max || x.ctx.Err() != nil || x.expired() {
		x.exhausted = true
		return true
	}
	x.checks++
	on := make(map[solver.GroupID]bool, len(enabled))
	for _, id := range enabled {
		on[id] = true
	}
	opts := x.opts
	if !x.deadline.IsZero() {
		opts.Timeout = time.Until(x.deadline)
	}
	opts.Disabled = make(map[solver.GroupID]bool, len(x.all))
	for _, id := range x.all {
		if !on[id] {
			opts.Disabled[id] = true
		}
	}
	switch solver.Solve(x.ctx, x.prog.Problem, opts).Status {
	case solver.Infeasible:
		return false
	case solver.Solved:
		return true
	}
	x.exhausted = true
	return true
}

func (x *explainer) expired() bool {
	return !x.deadline.IsZero() && !time.Now().Before(x.deadline)
}

func union(a, b []solver.GroupID) []solver.GroupID {
	out := make([]solver.GroupID, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
