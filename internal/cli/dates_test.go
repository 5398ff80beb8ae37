package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateAcceptsAbsoluteForms(t *testing.T) {
	got, err := parseDate("2026-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.Month(1), got.Month())
	assert.Equal(t, 2, got.Day())
}

func TestParseDateAcceptsRelativeAge(t *testing.T) {
	before := time.Now()
	got, err := parseDate("2d")
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(-48*time.Hour), got, 5*time.Second)
}

func TestParseDateEmptyIsZero(t *testing.T) {
	got, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := parseDate("not-a-date")
	assert.Error(t, err)
}
