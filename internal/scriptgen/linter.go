package scriptgen

import (
	"context"
	"os/exec"
	"strings"
)

// Lint pipes script to the external linter command's standard input, per
// spec.md §4.3 point 5. An empty command is a no-op. A non-zero exit
// returns a ScriptError of kind LinterFailed carrying the command's
// combined stdout/stderr verbatim.
func Lint(ctx context.Context, command, script string) error {
	if command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = strings.NewReader(script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &ScriptError{Kind: LinterFailed, Output: string(output), Err: err}
	}
	return nil
}
