package solver

import (
	"context"
	"time"
)

// Status is the outcome of a search.
type Status int

const (
	Unsolved Status = iota
	Solved
	Infeasible
	Timeout
)

func (s Status) String() string {
	switch s {
	case Solved:
		return "solved"
	case Infeasible:
		return "infeasible"
	case Timeout:
		return "timeout"
	}
	return "unsolved"
}

// Options bound and shape a search.
type Options struct {
	// MaxNodes caps the number of branching decisions. Zero means no cap.
	MaxNodes int
	// Timeout caps wall-clock time. Zero means no cap.
	Timeout time.Duration
	// AcceptSuboptimal returns the best model found so far instead of
	// Timeout when the budget runs out.
	AcceptSuboptimal bool
	// FirstModel stops at the first model and ignores the criteria.
	FirstModel bool
	// Disabled groups have their clauses ignored.
	Disabled map[GroupID]bool
	// Validate is called on every complete assignment that satisfies the
	// clauses; returning false rejects it.
	Validate func(*Model) bool
}

// Stats describes the work done by a search.
type Stats struct {
	Nodes        int
	Backtracks   int
	Propagations int
	Models       int
	Rejected     int
	Elapsed      time.Duration
}

// Result is the outcome of Solve. Model and Cost are set only when Status is
// Solved.
type Result struct {
	Status  Status
	Model   *Model
	Cost    []int
	Optimal bool
	Stats   Stats
}

// Model is a total assignment.
type Model struct {
	p    *Problem
	vals []int
}

// Value returns the value index of v.
func (m *Model) Value(v Var) int { return m.vals[v] }

// Label returns the value label of v.
func (m *Model) Label(v Var) string { return m.p.vars[v].values[m.vals[v]] }

// Bool returns the value of a boolean variable.
func (m *Model) Bool(v Var) bool { return m.vals[v] == 1 }

// Holds reports whether l is true in m.
func (m *Model) Holds(l Lit) bool { return l.vals.has(m.vals[l.v]) }

// HoldsAll reports whether every literal is true in m.
func (m *Model) HoldsAll(lits ...Lit) bool {
	for _, l := range lits {
		if !m.Holds(l) {
			return false
		}
	}
	return true
}

// Problem returns the problem m assigns.
func (m *Model) Problem() *Problem { return m.p }

type phase int

const (
	propagating phase = iota
	branching
	backtracking
	leaf
	done
)

type saved struct {
	v   Var
	old set
}

type choice struct {
	trail int
	v     Var
	val   int
}

type searcher struct {
	ctx  context.Context
	p    *Problem
	opts Options

	clauses []int
	occurs  [][]int
	dom     []set
	trail   []saved
	choices []choice
	queue   []Var
	queued  []bool

	best     []int
	bestCost []int
	stopped  bool
	start    time.Time
	stats    Stats
}

// Solve searches p. The problem must not be modified during the call.
//
// The search is a depth-first walk: propagate clauses to a fixpoint, branch
// on the first unassigned variable (aux variables last) trying values in
// preference order, and on a conflict undo to the last choice and exclude the
// value tried. Every model found tightens a lexicographic bound on the
// criteria; ties keep the model found first.
func Solve(ctx context.Context, p *Problem, opts Options) Result {
	s := &searcher{
		ctx:    ctx,
		p:      p,
		opts:   opts,
		occurs: make([][]int, len(p.vars)),
		dom:    make([]set, len(p.vars)),
		queued: make([]bool, len(p.vars)),
		start:  time.Now(),
	}
	for i, v := range p.vars {
		s.dom[i] = fullSet(len(v.values))
	}
	for ci, c := range p.clauses {
		if opts.Disabled[c.Group] {
			continue
		}
		s.clauses = append(s.clauses, ci)
		last := Var(-1)
		for _, l := range c.Lits {
			if l.v != last {
				s.occurs[l.v] = append(s.occurs[l.v], ci)
				last = l.v
			}
		}
	}
	status := s.run()
	s.stats.Elapsed = time.Since(s.start)

	res := Result{Status: status, Stats: s.stats}
	if status == Solved {
		res.Model = &Model{p: p, vals: s.best}
		res.Cost = s.bestCost
		res.Optimal = !s.stopped
	}
	return res
}

func (s *searcher) run() Status {
	if !s.initial() {
		return Infeasible
	}
	ph := propagating
	for ph != done {
		switch ph {
		case propagating:
			switch {
			case !s.propagate(), s.dominated():
				ph = backtracking
			case s.assigned():
				ph = leaf
			default:
				ph = branching
			}
		case branching:
			if s.exhausted() {
				s.stopped = true
				ph = done
				continue
			}
			s.decide()
			ph = propagating
		case leaf:
			m := s.snapshot()
			if s.opts.Validate != nil && !s.opts.Validate(&Model{p: s.p, vals: m}) {
				s.stats.Rejected++
				ph = backtracking
				continue
			}
			s.stats.Models++
			s.best, s.bestCost = m, s.cost()
			if s.opts.FirstModel || len(s.p.criteria) == 0 {
				ph = done
				continue
			}
			ph = backtracking
		case backtracking:
			if !s.backtrack() {
				ph = done
				continue
			}
			ph = propagating
		}
	}
	switch {
	case s.stopped && (s.best == nil || !s.opts.AcceptSuboptimal):
		return Timeout
	case s.best != nil:
		return Solved
	}
	return Infeasible
}

// initial checks every enabled clause once.
func (s *searcher) initial() bool {
	for _, ci := range s.clauses {
		if !s.check(ci) {
			return false
		}
	}
	return true
}

func (s *searcher) propagate() bool {
	for len(s.queue) > 0 {
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.queued[v] = false
		for _, ci := range s.occurs[v] {
			if !s.check(ci) {
				s.clearQueue()
				return false
			}
		}
	}
	return true
}

func (s *searcher) clearQueue() {
	for _, v := range s.queue {
		s.queued[v] = false
	}
	s.queue = s.queue[:0]
}

// check propagates clause ci and reports false when it is violated.
func (s *searcher) check(ci int) bool {
	c := s.p.clauses[ci]
	unit, open := -1, 0
	for i, l := range c.Lits {
		d := s.dom[l.v]
		if d.subsetOf(l.vals) {
			return true
		}
		if d.intersects(l.vals) {
			open++
			unit = i
			if open > 1 {
				return true
			}
		}
	}
	if open == 0 {
		return false
	}
	s.stats.Propagations++
	l := c.Lits[unit]
	return s.restrict(l.v, l.vals)
}

// restrict intersects the domain of v with vals.
func (s *searcher) restrict(v Var, vals set) bool {
	d := s.dom[v]
	next := newSet(len(s.p.vars[v].values))
	d.intersectInto(vals, next)
	if next.equal(d) {
		return true
	}
	if next.empty() {
		return false
	}
	s.trail = append(s.trail, saved{v: v, old: d})
	s.dom[v] = next
	if !s.queued[v] {
		s.queued[v] = true
		s.queue = append(s.queue, v)
	}
	return true
}

func (s *searcher) assigned() bool { return s.next() < 0 }

// next returns the variable to branch on, or -1 when all are assigned.
func (s *searcher) next() Var {
	aux := Var(-1)
	for i, v := range s.p.vars {
		if s.dom[i].count() <= 1 {
			continue
		}
		if !v.aux {
			return Var(i)
		}
		if aux < 0 {
			aux = Var(i)
		}
	}
	return aux
}

func (s *searcher) decide() {
	v := s.next()
	val := -1
	for _, i := range s.p.vars[v].order {
		if s.dom[v].has(i) {
			val = i
			break
		}
	}
	s.stats.Nodes++
	s.choices = append(s.choices, choice{trail: len(s.trail), v: v, val: val})
	one := newSet(len(s.p.vars[v].values))
	one.add(val)
	s.restrict(v, one)
}

func (s *searcher) undo(to int) {
	for i := len(s.trail) - 1; i >= to; i-- {
		s.dom[s.trail[i].v] = s.trail[i].old
	}
	s.trail = s.trail[:to]
}

// backtrack undoes the last choice and excludes the value it tried. It
// returns false when no choice is left.
func (s *searcher) backtrack() bool {
	s.clearQueue()
	for len(s.choices) > 0 {
		c := s.choices[len(s.choices)-1]
		s.choices = s.choices[:len(s.choices)-1]
		s.undo(c.trail)
		s.stats.Backtracks++
		rest := s.dom[c.v].clone()
		rest.remove(c.val)
		if s.restrict(c.v, rest) {
			return true
		}
	}
	return false
}

func (s *searcher) exhausted() bool {
	if s.opts.MaxNodes > 0 && s.stats.Nodes >= s.opts.MaxNodes {
		return true
	}
	if s.stats.Nodes%128 != 0 {
		return false
	}
	if s.opts.Timeout > 0 && time.Since(s.start) > s.opts.Timeout {
		return true
	}
	return s.ctx.Err() != nil
}

func (s *searcher) snapshot() []int {
	out := make([]int, len(s.dom))
	for i, d := range s.dom {
		out[i] = d.first()
	}
	return out
}

// dominated reports whether no completion of the current partial assignment
// can beat the best model found so far.
func (s *searcher) dominated() bool {
	if s.best == nil || s.opts.FirstModel {
		return false
	}
	for i, c := range s.p.criteria {
		lb := s.criterionCost(c)
		switch {
		case lb > s.bestCost[i]:
			return true
		case lb < s.bestCost[i]:
			return false
		}
	}
	return true
}

func (s *searcher) cost() []int {
	out := make([]int, len(s.p.criteria))
	for i, c := range s.p.criteria {
		out[i] = s.criterionCost(c)
	}
	return out
}

// criterionCost is a lower bound on c over the current domains. It is exact
// once every variable is assigned.
func (s *searcher) criterionCost(c *Criterion) int {
	total := 0
	for _, t := range c.Terms {
		if s.entailed(t.Lits) {
			total += t.Weight
		}
	}
	for _, d := range c.Distinct {
		var seen map[int]bool
		for i, v := range d.Vars {
			if s.dom[v].count() != 1 || !s.entailed(d.Guards[i:i+1]) {
				continue
			}
			if seen == nil {
				seen = make(map[int]bool)
			}
			seen[s.dom[v].first()] = true
		}
		total += len(seen)
	}
	return total
}

func (s *searcher) entailed(lits []Lit) bool {
	for _, l := range lits {
		if !s.dom[l.v].subsetOf(l.vals) {
			return false
		}
	}
	return true
}

// Evaluate returns the criteria costs of m.
func (m *Model) Evaluate() []int {
	out := make([]int, len(m.p.criteria))
	for i, c := range m.p.criteria {
		total := 0
		for _, t := range c.Terms {
			if m.HoldsAll(t.Lits...) {
				total += t.Weight
			}
		}
		for _, d := range c.Distinct {
			seen := make(map[int]bool)
			for j, v := range d.Vars {
				if m.Holds(d.Guards[j]) {
					seen[m.vals[v]] = true
				}
			}
			total += len(seen)
		}
		out[i] = total
	}
	return out
}
