package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFindArtifactCommand(appOf appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "find-artifact <pattern>",
		Short: "search the staging and release stores for a matching artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			matches, err := a.FindArtifact(args[0])
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			for _, m := range matches {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}
