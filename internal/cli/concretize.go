package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/vjranagit/spack-sub003/internal/resolver"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/store"
)

type concretizeOptions struct {
	*options
	installed string
	output    string
	record    bool
	each      bool
	jobs      int
}

func newConcretizeCommand(o *options) *cobra.Command {
	c := &concretizeOptions{options: o}
	cmd := &cobra.Command{
		Use:   "concretize SPEC...",
		Short: "Concretize one or more abstract specs",
		Example: `  concretizer concretize --repo ./packages 'hdf5@1.14 +mpi' 'zlib'
  concretizer concretize --repo ./packages --installed installed.yaml --record -o tree app`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.installed, "installed", "", "Installed-spec database consulted for reuse")
	f.StringVarP(&c.output, "output", "o", "yaml", "Output format. One of: (yaml | json | tree)")
	f.BoolVar(&c.record, "record", false, "Add the concretized roots to the --installed database")
	f.BoolVar(&c.each, "each", false, "Resolve every spec as an independent request, concurrently")
	f.IntVar(&c.jobs, "jobs", 4, "Concurrent resolutions with --each")
	return cmd
}

func (c *concretizeOptions) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logr.FromContextOrDiscard(ctx)
	if c.record && c.installed == "" {
		return errors.New("--record needs --installed")
	}
	w, err := newWriter(c.output)
	if err != nil {
		return err
	}
	specs := make([]*spec.Spec, len(args))
	for i, a := range args {
		if specs[i], err = spec.Parse(a); err != nil {
			return err
		}
	}

	policy, err := c.policy(cmd)
	if err != nil {
		return err
	}
	r, err := c.repository(ctx)
	if err != nil {
		return err
	}
	var db *store.DB
	var installed []*spec.Node
	if c.installed != "" {
		if db, err = store.Open(c.installed); err != nil {
			return err
		}
		installed = db.Nodes()
		log.V(1).Info("installed database loaded", "path", db.Path(), "nodes", len(installed))
	}
	res := resolver.NewDefault(r, policy)

	var plans []resolver.Plan
	if c.each {
		plans, err = c.resolveEach(ctx, res, specs, installed)
	} else {
		var plan resolver.Plan
		plan, err = res.Resolve(ctx, resolver.Input{Specs: specs, Installed: installed})
		plans = append(plans, plan)
	}
	if err != nil {
		return err
	}

	for _, plan := range plans {
		for _, s := range plan.Diagnostics.Separate {
			log.Info("spec could not be unified and was solved on its own", "spec", s)
		}
		if err := w.write(cmd.OutOrStdout(), plan); err != nil {
			return err
		}
		if c.record {
			if err := db.Add(plan.Roots...); err != nil {
				return err
			}
		}
	}
	if c.record {
		if err := db.Save(); err != nil {
			return err
		}
		log.Info("recorded installed specs", "path", db.Path(), "nodes", db.Len())
	}
	return nil
}

// resolveEach resolves every spec alone. Every failure is reported; the
// first one is returned.
func (c *concretizeOptions) resolveEach(ctx context.Context, r resolver.Resolver, specs []*spec.Spec, installed []*spec.Node) ([]resolver.Plan, error) {
	inputs := make([]resolver.Input, len(specs))
	for i, s := range specs {
		inputs[i] = resolver.Input{Specs: []*spec.Spec{s}, Installed: installed}
	}
	results, err := resolver.ResolveAll(ctx, r, inputs, c.jobs)
	if err != nil {
		return nil, err
	}
	var first error
	plans := make([]resolver.Plan, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(c.stderr, "%s: %v\n", specs[i], res.Err)
			if first == nil {
				first = res.Err
			}
			continue
		}
		plans = append(plans, res.Plan)
	}
	return plans, first
}
