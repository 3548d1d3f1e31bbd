package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateRepoCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-repo",
		Short: "Load the --repo files and check their cross-references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := o.repository(cmd.Context())
			if err != nil {
				return err
			}
			if err := r.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d packages, %d virtuals: ok\n", len(r.Names()), len(r.Virtuals()))
			return nil
		},
	}
}
