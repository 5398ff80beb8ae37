// Package cli is the orchestrator's command tree: a persistent set of
// flags every subcommand shares (config path, repo path, log
// format/level) plus one cobra.Command per family from spec.md §6.
// Grounded on the teacher's own dependency pack's CLI style rather
// than the teacher itself: openshift-origin's oc command tree
// (pkg/oc/cli/cmd/*.go) builds each subcommand as its own
// *cobra.Command constructor and uses pflag's StringArrayVar for
// repeated flags like --env; that shape fits this CLI's many nested
// subcommand families far better than the teacher's single flat
// flag.NewFlagSet (burstgridgo has exactly one command). The
// *ExitError{Code,Message} convention is kept from the teacher's
// internal/cli.ExitError so main can translate a failure into a
// process exit code the same way regardless of which layer raised it.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/forgegrid/internal/app"
)

// ExitError carries the process exit code a failed command should
// produce.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// globalFlags holds the persistent flags every subcommand reads to
// build its *app.App.
type globalFlags struct {
	configPath string
	workingDir string
	repoPath   string
	logFormat  string
	logLevel   string
}

// Execute builds the root command, parses args against it, and runs
// whichever subcommand matched. It never lets a cobra usage error or a
// subcommand's operational error escape as a bare error: both come
// back wrapped in *ExitError so main.go has one translation point.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root, appOf := newRootCommand()
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetArgs(args)
	root.SilenceUsage = true
	root.SilenceErrors = true

	for _, cmd := range []*cobra.Command{
		newBuildCommand(appOf),
		newSourceCommand(appOf),
		newTreeOfCommand(appOf),
		newDbCommand(appOf),
		newReleaseCommand(appOf),
		newEndpointCommand(appOf),
		newFindArtifactCommand(appOf),
	} {
		root.AddCommand(cmd)
	}

	if err := root.ExecuteContext(ctx); err != nil {
		if exitErr, ok := err.(*ExitError); ok {
			return exitErr
		}
		return &ExitError{Code: 1, Message: err.Error()}
	}
	return nil
}

// appOf is called by a subcommand's RunE, after cobra has parsed the
// persistent flags, to build the one *app.App the whole invocation
// shares.
type appProvider func(ctx context.Context, outW io.Writer) *app.App

func newRootCommand() (*cobra.Command, appProvider) {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "forgegrid",
		Short: "container-based package build orchestrator",
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the base YAML config file")
	root.PersistentFlags().StringVar(&flags.workingDir, "working-dir", ".", "directory .forgegrid.yml overrides are walked from")
	root.PersistentFlags().StringVar(&flags.repoPath, "repo", ".", "package repository root")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "log output format: 'text' or 'json'")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: 'debug', 'info', 'warn', or 'error'")

	var built *app.App
	provider := func(ctx context.Context, outW io.Writer) *app.App {
		if built == nil {
			built = app.NewApp(ctx, outW, app.Config{
				ConfigPath: flags.configPath,
				WorkingDir: flags.workingDir,
				RepoPath:   flags.repoPath,
				LogFormat:  flags.logFormat,
				LogLevel:   flags.logLevel,
			})
		}
		return built
	}
	return root, provider
}
