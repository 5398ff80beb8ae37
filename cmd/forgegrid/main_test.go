package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunShowsHelpAndExitsCleanly(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"--help"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "forgegrid")
}

func TestRunPropagatesUnknownCommandAsExitError(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"not-a-real-command"})
	require.Error(t, err)
}

func TestRunPropagatesMissingRequiredFlagAsExitError(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, []string{"build", "app"})
	require.Error(t, err)
}
