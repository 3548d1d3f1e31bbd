package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vjranagit/spack-sub003/internal/solver"
)

var (
	// ErrUnreachable matches UnreachableNodeError.
	ErrUnreachable = errors.New("unreachable node")
	// ErrInfeasible matches InfeasibleError.
	ErrInfeasible = errors.New("infeasible")
	// ErrTimeout matches TimeoutError.
	ErrTimeout = errors.New("search budget exceeded")
	// ErrInternalConsistency matches InternalConsistencyError.
	ErrInternalConsistency = errors.New("internal consistency error")
)

// UnreachableNodeError reports a requested or implied node that has no valid
// expansion.
type UnreachableNodeError struct {
	Name   string
	Source string
	Reason string
}

func (e *UnreachableNodeError) Error() string {
	return fmt.Sprintf("unreachable node %s: %s (from %s)", e.Name, e.Reason, e.Source)
}

func (e *UnreachableNodeError) Is(target error) bool { return target == ErrUnreachable }

// Conflict is one constraint of an unsatisfiable set.
type Conflict struct {
	// Kind is "request", "package" or "config".
	Kind    string
	Package string
	Rule    string
	Label   string
	Message string
}

func (c Conflict) String() string {
	switch c.Kind {
	case "package":
		return c.Label + " (package rule)"
	case "config":
		return c.Label + " (config)"
	}
	return c.Label
}

// InfeasibleError reports a request whose constraints no assignment
// satisfies. Conflicts is a minimal unsatisfiable subset of the explainable
// constraints when Minimal is set, and a superset of one otherwise.
type InfeasibleError struct {
	Roots     []string
	Conflicts []Conflict
	Minimal   bool
}

func (e *InfeasibleError) Error() string {
	msg := "no concretization of " + strings.Join(e.Roots, ", ") + " satisfies every constraint"
	if len(e.Conflicts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(e.Explanation(), "; ")
}

func (e *InfeasibleError) Is(target error) bool { return target == ErrInfeasible }

// Explanation returns one line per conflicting constraint.
func (e *InfeasibleError) Explanation() []string {
	out := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		out[i] = c.String()
	}
	return out
}

// TimeoutError reports a search that ran out of budget before proving
// optimality or infeasibility. The outcome is unknown.
type TimeoutError struct {
	Roots    []string
	MaxNodes int
	Timeout  time.Duration
	Stats    solver.Stats
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("search budget exceeded for %s after %d nodes in %s (max_nodes=%d, timeout=%s)",
		strings.Join(e.Roots, ", "), e.Stats.Nodes, e.Stats.Elapsed.Round(time.Millisecond), e.MaxNodes, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// InternalConsistencyError reports a result that violates an invariant. It
// indicates a bug and is never retried.
type InternalConsistencyError struct {
	Err error
}

func (e *InternalConsistencyError) Error() string {
	return "internal consistency error: " + e.Err.Error()
}

func (e *InternalConsistencyError) Unwrap() error { return e.Err }

func (e *InternalConsistencyError) Is(target error) bool { return target == ErrInternalConsistency }
