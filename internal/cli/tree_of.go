package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTreeOfCommand(appOf appProvider) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "tree-of <package>",
		Short: "print a package's resolved dependency DAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			g, err := a.TreeOf(cmd.Context(), args[0], version)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			data, err := g.MarshalJSON()
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version constraint for package")
	return cmd
}
