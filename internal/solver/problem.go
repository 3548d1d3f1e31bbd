// Package solver searches finite-domain constraint problems for optimal
// models.
//
// A Problem has variables with small enumerated domains, hard clauses over
// literals of the form "variable takes one of these values", and soft
// criteria that score complete models. Solve propagates clauses to a fixpoint,
// branches in variable creation order trying values in preference order,
// backtracks on conflicts, and runs a lexicographic branch-and-bound over
// the criteria. All iteration orders are fixed, so identical problems always
// produce identical results.
package solver

import (
	"fmt"
	"strings"
)

// Var identifies a variable of a Problem.
type Var int32

// GroupID tags clauses so that they can be disabled together. Group 0 holds
// clauses that are always enabled.
type GroupID int32

// Core is the group of clauses that are never disabled.
const Core GroupID = 0

type variable struct {
	name   string
	values []string
	order  []int
	aux    bool
}

// Lit holds when its variable takes a value in the literal's set.
type Lit struct {
	v    Var
	vals set
	n    int
}

// Var returns the literal's variable.
func (l Lit) Var() Var { return l.v }

// Not returns the complementary literal.
func (l Lit) Not() Lit { return Lit{v: l.v, vals: l.vals.complement(l.n), n: l.n} }

// Values returns the value indexes the literal accepts.
func (l Lit) Values() []int { return l.vals.members() }

// Clause is a disjunction of literals.
type Clause struct {
	Group GroupID
	Lits  []Lit
}

// Group describes a set of clauses for diagnostics.
type Group struct {
	ID    GroupID
	Label string
	Data  any
}

// Term adds Weight to its criterion when every literal holds.
type Term struct {
	Lits   []Lit
	Weight int
}

// Distinct counts the distinct values taken by Vars, considering only
// positions whose guard holds.
type Distinct struct {
	Vars   []Var
	Guards []Lit
}

// Criterion is one component of the lexicographic objective. Lower is better.
type Criterion struct {
	Name     string
	Terms    []Term
	Distinct []Distinct
}

// Problem is a constraint problem under construction. It is not safe for
// concurrent use.
type Problem struct {
	vars     []variable
	clauses  []Clause
	groups   []Group
	criteria []*Criterion
	byName   map[string]int
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{
		groups: []Group{{ID: Core, Label: "core"}},
		byName: make(map[string]int),
	}
}

// NewVar adds a variable whose domain is values. Branching tries values in
// the given order.
func (p *Problem) NewVar(name string, values []string) Var {
	if len(values) == 0 {
		panic(fmt.Sprintf("solver: variable %s has an empty domain", name))
	}
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	p.vars = append(p.vars, variable{name: name, values: append([]string(nil), values...), order: order})
	return Var(len(p.vars) - 1)
}

var boolValues = []string{"false", "true"}

// NewBool adds a boolean variable. Branching tries false first.
func (p *Problem) NewBool(name string) Var { return p.NewVar(name, boolValues) }

// NewAux adds a boolean variable that is only branched on after every
// ordinary variable is assigned. Use it for variables defined by clauses.
func (p *Problem) NewAux(name string) Var {
	v := p.NewBool(name)
	p.vars[v].aux = true
	return v
}

// Prefer sets the order in which branching tries the values of v. Values
// missing from order are tried last, in index order.
func (p *Problem) Prefer(v Var, order []int) {
	n := len(p.vars[v].values)
	seen := make([]bool, n)
	out := make([]int, 0, n)
	for _, i := range order {
		if i >= 0 && i < n && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	p.vars[v].order = out
}

// Preferred returns the value of v that branching tries first.
func (p *Problem) Preferred(v Var) int { return p.vars[v].order[0] }

// Order returns the branching order of v's values.
func (p *Problem) Order(v Var) []int { return append([]int(nil), p.vars[v].order...) }

// Name returns the name of v.
func (p *Problem) Name(v Var) string { return p.vars[v].name }

// Values returns the domain labels of v.
func (p *Problem) Values(v Var) []string { return p.vars[v].values }

// NumVars returns the number of variables.
func (p *Problem) NumVars() int { return len(p.vars) }

// NumClauses returns the number of clauses.
func (p *Problem) NumClauses() int { return len(p.clauses) }

// In returns the literal "v takes one of vals".
func (p *Problem) In(v Var, vals ...int) Lit {
	n := len(p.vars[v].values)
	s := newSet(n)
	for _, i := range vals {
		if i < 0 || i >= n {
			panic(fmt.Sprintf("solver: value %d out of range for %s", i, p.vars[v].name))
		}
		s.add(i)
	}
	return Lit{v: v, vals: s, n: n}
}

// Is returns the literal "v = val".
func (p *Problem) Is(v Var, val int) Lit { return p.In(v, val) }

// True returns the literal "boolean v is true".
func (p *Problem) True(v Var) Lit { return p.In(v, 1) }

// False returns the literal "boolean v is false".
func (p *Problem) False(v Var) Lit { return p.In(v, 0) }

// NewGroup registers a clause group for diagnostics.
func (p *Problem) NewGroup(label string, data any) GroupID {
	id := GroupID(len(p.groups))
	p.groups = append(p.groups, Group{ID: id, Label: label, Data: data})
	return id
}

// Group returns the group with the given id.
func (p *Problem) Group(id GroupID) Group { return p.groups[id] }

// Groups returns every group except Core.
func (p *Problem) Groups() []Group { return append([]Group(nil), p.groups[1:]...) }

// Add adds the clause (l1 ∨ l2 ∨ ...) to group g. An empty clause makes the
// problem infeasible while g is enabled.
func (p *Problem) Add(g GroupID, lits ...Lit) {
	p.clauses = append(p.clauses, Clause{Group: g, Lits: append([]Lit(nil), lits...)})
}

// Implies adds the clauses (a1 ∧ a2 ∧ ...) → l for each l in then.
func (p *Problem) Implies(g GroupID, given []Lit, then ...Lit) {
	for _, l := range then {
		c := make([]Lit, 0, len(given)+1)
		for _, a := range given {
			c = append(c, a.Not())
		}
		p.Add(g, append(c, l)...)
	}
}

// Forbid adds the clause ¬(a1 ∧ a2 ∧ ...).
func (p *Problem) Forbid(g GroupID, lits ...Lit) {
	c := make([]Lit, len(lits))
	for i, l := range lits {
		c[i] = l.Not()
	}
	p.Add(g, c...)
}

// And returns an auxiliary variable that is true exactly when every literal
// holds. With no literals the variable is fixed true.
func (p *Problem) And(name string, lits ...Lit) Var {
	a := p.NewAux(name)
	p.DefineAnd(a, lits...)
	return a
}

// Or returns an auxiliary variable that is true exactly when some literal
// holds. With no literals the variable is fixed false.
func (p *Problem) Or(name string, lits ...Lit) Var {
	o := p.NewAux(name)
	p.DefineOr(o, lits...)
	return o
}

// DefineAnd constrains the boolean a to equal the conjunction of lits.
func (p *Problem) DefineAnd(a Var, lits ...Lit) {
	at := p.True(a)
	for _, l := range lits {
		p.Add(Core, at.Not(), l)
	}
	c := []Lit{at}
	for _, l := range lits {
		c = append(c, l.Not())
	}
	p.Add(Core, c...)
}

// DefineOr constrains the boolean o to equal the disjunction of lits.
func (p *Problem) DefineOr(o Var, lits ...Lit) {
	ot := p.True(o)
	for _, l := range lits {
		p.Add(Core, ot, l.Not())
	}
	p.Add(Core, append([]Lit{ot.Not()}, lits...)...)
}

// Criterion returns the criterion named name, registering it with the next
// lower priority when it does not exist yet.
func (p *Problem) Criterion(name string) *Criterion {
	if i, ok := p.byName[name]; ok {
		return p.criteria[i]
	}
	c := &Criterion{Name: name}
	p.byName[name] = len(p.criteria)
	p.criteria = append(p.criteria, c)
	return c
}

// Criteria returns the criteria names, highest priority first.
func (p *Problem) Criteria() []string {
	out := make([]string, len(p.criteria))
	for i, c := range p.criteria {
		out[i] = c.Name
	}
	return out
}

// Cost adds weight to c whenever every literal holds. Non-positive weights
// are ignored.
func (c *Criterion) Cost(weight int, lits ...Lit) {
	if weight <= 0 {
		return
	}
	c.Terms = append(c.Terms, Term{Lits: append([]Lit(nil), lits...), Weight: weight})
}

// CountDistinct adds one to c for every distinct value taken by vars at
// positions whose guard holds.
func (c *Criterion) CountDistinct(vars []Var, guards []Lit) {
	if len(vars) != len(guards) {
		panic("solver: CountDistinct needs one guard per variable")
	}
	c.Distinct = append(c.Distinct, Distinct{Vars: append([]Var(nil), vars...), Guards: append([]Lit(nil), guards...)})
}

// Describe renders the literal for debugging.
func (p *Problem) Describe(l Lit) string {
	vals := make([]string, 0)
	for _, i := range l.Values() {
		vals = append(vals, p.vars[l.v].values[i])
	}
	return p.vars[l.v].name + "∈{" + strings.Join(vals, ",") + "}"
}
