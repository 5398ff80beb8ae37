package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vk/forgegrid/internal/app"
)

func newBuildCommand(appOf appProvider) *cobra.Command {
	var version, image string
	var envPairs []string

	cmd := &cobra.Command{
		Use:   "build <package>",
		Short: "resolve a package's dependencies and run a submit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if image == "" {
				return &ExitError{Code: 2, Message: "build: --image is required"}
			}
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			a := appOf(cmd.Context(), cmd.OutOrStdout())
			result, buildErr := a.Build(cmd.Context(), app.BuildRequest{
				Package:    args[0],
				Constraint: version,
				Image:      image,
				Env:        env,
			})
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "submit %s\n", result.SubmitID)
			}
			if buildErr != nil {
				return printBuildFailure(cmd, a, result, buildErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "version constraint for package")
	cmd.Flags().StringVar(&image, "image", "", "container image to build in")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment variable K=V, repeatable")
	return cmd
}

// printBuildFailure streams the last build_error_lines of the failed
// job's log after the progress output, per spec.md §6's "build" entry
// ("streams progress and the last build_error_lines log lines on
// failure").
func printBuildFailure(cmd *cobra.Command, a *app.App, result *app.BuildResult, buildErr error) error {
	fmt.Fprintf(cmd.OutOrStdout(), "build failed: %v\n", buildErr)
	if result == nil {
		return &ExitError{Code: 1, Message: buildErr.Error()}
	}

	detail, err := a.GetSubmit(cmd.Context(), result.SubmitID)
	if err != nil {
		return &ExitError{Code: 1, Message: buildErr.Error()}
	}
	limit := a.Config.BuildErrorLines
	for _, j := range detail.Jobs {
		if j.Status != "failed" {
			continue
		}
		jobID, err := uuid.Parse(j.UUID)
		if err != nil {
			continue
		}
		logText, err := a.GetJobLog(cmd.Context(), jobID)
		if err != nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "--- last %d lines of job %s (%s) ---\n", limit, j.UUID, j.PackageName)
		fmt.Fprintln(cmd.OutOrStdout(), lastLines(logText, limit))
	}
	return &ExitError{Code: 1, Message: buildErr.Error()}
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("cli: invalid --env value %q, want K=V", pair)
		}
		env[name] = value
	}
	return env, nil
}
