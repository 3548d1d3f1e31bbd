package resolver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result pairs the plan of one batch input with its error.
type Result struct {
	Plan Plan
	Err  error
}

// ResolveAll resolves independent inputs concurrently, at most limit at a
// time (no limit when limit <= 0). Results are in input order. A failed
// input does not stop the others; the returned error is only set when ctx is
// cancelled.
func ResolveAll(ctx context.Context, r Resolver, inputs []Input, limit int) ([]Result, error) {
	results := make([]Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plan, err := r.Resolve(gctx, inputs[i])
			results[i] = Result{Plan: plan, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("resolver: batch: %w", err)
	}
	return results, ctx.Err()
}
