package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEndpointCommand(appOf appProvider) *cobra.Command {
	root := &cobra.Command{
		Use:   "endpoint",
		Short: "administer configured container-engine endpoints",
	}

	root.AddCommand(newContainerCommand(appOf), newContainersCommand(appOf), newImagesCommand(appOf))
	return root
}

// newContainerCommand builds "endpoint container <id> [top|stop]". The
// container id is a positional argument on "container" itself, captured
// in PersistentPreRunE so both leaf subcommands can read it without
// cobra re-parsing it as their own (nonexistent) positional argument.
func newContainerCommand(appOf appProvider) *cobra.Command {
	var containerID, endpointName string

	cmd := &cobra.Command{
		Use:   "container <id>",
		Short: "inspect or stop a specific container",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			containerID = args[0]
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&endpointName, "endpoint", "", "endpoint the container is running on")

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "list the container's running processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpointName == "" {
				return &ExitError{Code: 2, Message: "endpoint container top: --endpoint is required"}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			result, err := a.ContainerTop(cmd.Context(), endpointName, containerID)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "stop the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpointName == "" {
				return &ExitError{Code: 2, Message: "endpoint container stop: --endpoint is required"}
			}
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			if err := a.ContainerStop(cmd.Context(), endpointName, containerID); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}

	cmd.AddCommand(topCmd, stopCmd)
	return cmd
}

func newContainersCommand(appOf appProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "containers",
		Short: "operate on every container across every endpoint",
	}
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "remove stopped containers from every configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			if err := a.EndpointsPrune(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pruned")
			return nil
		},
	}
	cmd.AddCommand(pruneCmd)
	return cmd
}

func newImagesCommand(appOf appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "list the allow-listed images across configured endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf(cmd.Context(), cmd.OutOrStdout())
			for _, name := range a.EndpointImages() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
