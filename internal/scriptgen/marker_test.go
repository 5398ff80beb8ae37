package scriptgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk/forgegrid/internal/scriptgen"
)

func TestParseMarkerLineRecognizesAllKinds(t *testing.T) {
	cases := []struct {
		name string
		line string
		want scriptgen.Marker
	}{
		{"state-ok", "#BUTIDO:STATE:OK", scriptgen.Marker{Kind: scriptgen.MarkerState, StateOK: true}},
		{"state-err", `#BUTIDO:STATE:ERR:"build failed"`, scriptgen.Marker{Kind: scriptgen.MarkerState, StateMessage: "build failed"}},
		{"phase", "#BUTIDO:PHASE:configure", scriptgen.Marker{Kind: scriptgen.MarkerPhase, PhaseName: "configure"}},
		{"progress", "#BUTIDO:PROGRESS:42", scriptgen.Marker{Kind: scriptgen.MarkerProgress, Progress: 42}},
		{"progress-clamped-high", "#BUTIDO:PROGRESS:150", scriptgen.Marker{Kind: scriptgen.MarkerProgress, Progress: 100}},
		{"progress-clamped-low", "#BUTIDO:PROGRESS:-5", scriptgen.Marker{Kind: scriptgen.MarkerProgress, Progress: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := scriptgen.ParseMarkerLine(tc.line)
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseMarkerLineRejectsUnknownAndPlainLines(t *testing.T) {
	_, ok := scriptgen.ParseMarkerLine("building target...")
	assert.False(t, ok)

	_, ok = scriptgen.ParseMarkerLine("#BUTIDO:BOGUS:1")
	assert.False(t, ok)

	_, ok = scriptgen.ParseMarkerLine("#BUTIDO:PROGRESS:not-a-number")
	assert.False(t, ok)
}

func TestParseMarkerLineTrimsSurroundingWhitespace(t *testing.T) {
	got, ok := scriptgen.ParseMarkerLine("   #BUTIDO:PHASE:install   \n")
	assert.True(t, ok)
	assert.Equal(t, "install", got.PhaseName)
}

func TestStripANSIRemovesColorCodes(t *testing.T) {
	in := "\x1b[32mOK\x1b[0m done"
	assert.Equal(t, "OK done", scriptgen.StripANSI(in))
}

func TestStripANSILeavesPlainTextUntouched(t *testing.T) {
	assert.Equal(t, "nothing to strip", scriptgen.StripANSI("nothing to strip"))
}
