package resolver

import "context"

// Resolver computes a Plan (concrete DAGs) for a given Input.
//
// Either a fully valid plan or a typed error is returned: *UnreachableNodeError,
// *InfeasibleError, *TimeoutError or *InternalConsistencyError.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Plan, error)
}
