package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vk/forgegrid/internal/app"
	"github.com/vk/forgegrid/internal/pkgmodel"
)

func newSourceCommand(appOf appProvider) *cobra.Command {
	var version string

	resolvePackage := func(a *app.App, name string) (*pkgmodel.Package, error) {
		pkg, ok := a.Repo.Get(name, version)
		if !ok {
			return nil, &ExitError{Code: 2, Message: fmt.Sprintf("source: no such package %s@%s", name, version)}
		}
		return pkg, nil
	}

	root := &cobra.Command{
		Use:   "source",
		Short: "resolve, fetch, or verify a package's cached sources",
	}
	root.PersistentFlags().StringVar(&version, "version", "", "version constraint for package")

	ofCmd := &cobra.Command{
		Use:   "of <package>",
		Short: "print cache paths for a package's declared sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			pkg, err := resolvePackage(a, args[0])
			if err != nil {
				return err
			}
			for _, entry := range a.SourceOf(pkg) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tcached=%t\n", entry.Source.Key, entry.Path, entry.Cached)
			}
			return nil
		},
	}

	var overwrite bool
	downloadCmd := &cobra.Command{
		Use:   "download <package>",
		Short: "fetch every source a package declares that is not already cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			pkg, err := resolvePackage(a, args[0])
			if err != nil {
				return err
			}
			if err := a.SourceDownload(cmd.Context(), pkg, overwrite); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			return nil
		},
	}
	downloadCmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-fetch sources already cached")

	verifyCmd := &cobra.Command{
		Use:   "verify <package>",
		Short: "check cached sources against their declared hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			pkg, err := resolvePackage(a, args[0])
			if err != nil {
				return err
			}
			if err := a.SourceVerify(pkg); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	root.AddCommand(ofCmd, downloadCmd, verifyCmd)
	return root
}
