// Package cli implements the concretizer command tree.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/repo"
	"github.com/vjranagit/spack-sub003/internal/resolver"
)

// options holds the flags shared by every subcommand.
type options struct {
	repos      []string
	configPath string
	unify      string
	maxNodes   int
	timeout    time.Duration
	zap        zap.Options

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the concretizer command with every subcommand
// attached. Output goes to stdout, logs and errors to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	o := &options{stdout: stdout, stderr: stderr, zap: zap.Options{Development: true}}
	cmd := &cobra.Command{
		Use:           "concretizer",
		Short:         "Resolve abstract package specs into concrete dependency graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log := zap.New(zap.UseFlagOptions(&o.zap), zap.WriteTo(o.stderr))
			cmd.SetContext(logr.NewContext(cmd.Context(), log))
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringArrayVar(&o.repos, "repo", nil, "Package repository file or directory (repeatable)")
	pf.StringVar(&o.configPath, "config", "", "Policy configuration file (default concretizer.yaml)")
	pf.StringVar(&o.unify, "unify", "", "Override the unification mode: full, none or when_possible")
	pf.IntVar(&o.maxNodes, "max-nodes", 0, "Override the search node budget")
	pf.DurationVar(&o.timeout, "timeout", 0, "Override the search time budget")

	fs := flag.NewFlagSet("zap", flag.ContinueOnError)
	o.zap.BindFlags(fs)
	pf.AddGoFlagSet(fs)

	cmd.AddCommand(
		newConcretizeCommand(o),
		newValidateRepoCommand(o),
		newServeCommand(o),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, resolver.ErrInfeasible):
		return 2
	case errors.Is(err, resolver.ErrUnreachable):
		return 3
	case errors.Is(err, resolver.ErrTimeout):
		return 4
	}
	return 1
}

// policy loads the configuration file and applies flag overrides.
func (o *options) policy(cmd *cobra.Command) (*config.Policy, error) {
	p, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("unify") {
		mode, err := config.ParseUnifyMode(o.unify)
		if err != nil {
			return nil, err
		}
		p.Unify = mode
	}
	if flags.Changed("max-nodes") {
		if o.maxNodes <= 0 {
			return nil, fmt.Errorf("--max-nodes must be positive")
		}
		p.MaxNodes = o.maxNodes
	}
	if flags.Changed("timeout") {
		p.Timeout = o.timeout
	}
	return p, nil
}

func (o *options) repository(ctx context.Context) (*repo.Repository, error) {
	if len(o.repos) == 0 {
		return nil, fmt.Errorf("at least one --repo is required")
	}
	return repo.Load(ctx, o.repos...)
}
