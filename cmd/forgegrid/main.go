// Command forgegrid is the orchestrator's entrypoint. Grounded on the
// teacher's cmd/cli/main.go: a minimal default logger until the real
// one is configured, run(outW, args) split out for testability, and a
// panic-recovery boundary around the app's fatal-startup-error
// convention so a bad config prints a clean message instead of a
// stack trace.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/forgegrid/internal/cli"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outW io.Writer, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(outW, "a critical startup error occurred: %v\n", r)
			os.Exit(1)
		}
	}()

	return cli.Execute(context.Background(), outW, args)
}
