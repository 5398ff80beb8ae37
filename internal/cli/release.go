package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newReleaseCommand(appOf appProvider) *cobra.Command {
	var to, submit string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "release <artifact>...",
		Short: "promote one or more staged artifacts into a release store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return &ExitError{Code: 2, Message: "release: --to is required"}
			}
			submitID, err := uuid.Parse(submit)
			if err != nil {
				return &ExitError{Code: 2, Message: fmt.Sprintf("release: --submit: %v", err)}
			}

			a := appOf(cmd.Context(), cmd.OutOrStdout())
			dests, releaseErr := a.Release(cmd.Context(), submitID, args, to, overwrite)
			for _, dest := range dests {
				fmt.Fprintln(cmd.OutOrStdout(), dest)
			}
			if releaseErr != nil {
				return &ExitError{Code: 1, Message: releaseErr.Error()}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "release store name")
	cmd.Flags().StringVar(&submit, "submit", "", "submit uuid the artifacts were staged under")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite a colliding release")
	return cmd
}
