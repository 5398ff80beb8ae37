package scriptgen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/scriptgen"
)

func TestLintNoopWithEmptyCommand(t *testing.T) {
	err := scriptgen.Lint(context.Background(), "", "#!/bin/bash\necho hi\n")
	require.NoError(t, err)
}

func TestLintPassesScriptOnStdin(t *testing.T) {
	err := scriptgen.Lint(context.Background(), "grep -q '#!/bin/bash'", "#!/bin/bash\necho hi\n")
	require.NoError(t, err)
}

func TestLintFailsSurfacesOutput(t *testing.T) {
	err := scriptgen.Lint(context.Background(), "grep -q nonexistent-token", "#!/bin/bash\necho hi\n")
	require.Error(t, err)

	var scriptErr *scriptgen.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, scriptgen.LinterFailed, scriptErr.Kind)
}
