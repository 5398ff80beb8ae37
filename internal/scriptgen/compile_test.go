package scriptgen_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/scriptgen"
)

func samplePackage() *pkgmodel.Package {
	return &pkgmodel.Package{
		Name:    "hello",
		Version: "1.0.0",
		Sources: []pkgmodel.Source{{Key: "main", URL: "https://example.com/hello.tar.gz"}},
		Patches: []pkgmodel.Patch{{File: "fix-build.patch"}},
		Phases: []pkgmodel.Phase{
			{Name: "unpack", Script: `{{phase "unpack"}}
tar xf {{this.sources}}`},
			{Name: "build", Script: `{{state "OK"}}
echo building {{this.name}}-{{this.version}} with {{env "CFLAGS"}}`},
		},
		Env: map[string]string{"CFLAGS": "-O2"},
	}
}

func TestCompileOrdersPhasesAndAppliesShebang(t *testing.T) {
	pkg := samplePackage()
	out, err := scriptgen.Compile(pkg, nil, nil, []string{"unpack", "build", "install"}, "#!/bin/bash", true)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "#!/bin/bash\n"))
	unpackIdx := strings.Index(out, "# ---- phase: unpack ----")
	buildIdx := strings.Index(out, "# ---- phase: build ----")
	require.True(t, unpackIdx >= 0)
	require.True(t, buildIdx > unpackIdx)
	assert.NotContains(t, out, "phase: install")
}

func TestCompileExpandsMarkerHelpers(t *testing.T) {
	pkg := samplePackage()
	out, err := scriptgen.Compile(pkg, nil, nil, []string{"unpack", "build"}, "#!/bin/bash", true)
	require.NoError(t, err)

	assert.Contains(t, out, "echo '#BUTIDO:PHASE:unpack'")
	assert.Contains(t, out, "echo '#BUTIDO:STATE:OK'")
	assert.Contains(t, out, "echo building hello-1.0.0 with -O2")
}

func TestCompileFailsOnUndefinedEnvInStrictMode(t *testing.T) {
	pkg := &pkgmodel.Package{
		Name:    "broken",
		Version: "1.0.0",
		Phases:  []pkgmodel.Phase{{Name: "build", Script: `echo {{env "MISSING"}}`}},
	}
	_, err := scriptgen.Compile(pkg, nil, nil, []string{"build"}, "#!/bin/bash", true)
	require.Error(t, err)

	var scriptErr *scriptgen.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, scriptgen.UnboundVariable, scriptErr.Kind)
	assert.Equal(t, "MISSING", scriptErr.Variable)
	assert.Equal(t, "build", scriptErr.Phase)
}

func TestCompileToleratesUndefinedEnvInLaxMode(t *testing.T) {
	pkg := &pkgmodel.Package{
		Name:    "lax",
		Version: "1.0.0",
		Phases:  []pkgmodel.Phase{{Name: "build", Script: `echo [{{env "MISSING"}}]`}},
	}
	out, err := scriptgen.Compile(pkg, nil, nil, []string{"build"}, "#!/bin/bash", false)
	require.NoError(t, err)
	assert.Contains(t, out, "echo []")
}

func TestCompileExposesResolvedDependencyArtifactNames(t *testing.T) {
	pkg := &pkgmodel.Package{
		Name:    "app",
		Version: "1.0.0",
		Phases:  []pkgmodel.Phase{{Name: "build", Script: `{{range this.dependencies.runtime}}{{.}} {{end}}`}},
	}
	runtime := []scriptgen.DependencyRef{{Name: "libfoo", Version: "2.3.0"}}
	out, err := scriptgen.Compile(pkg, runtime, nil, []string{"build"}, "#!/bin/bash", true)
	require.NoError(t, err)
	assert.Contains(t, out, "libfoo-2.3.0")
}

func TestCompileRejectsUnsupportedStateArity(t *testing.T) {
	pkg := &pkgmodel.Package{
		Name:    "bad",
		Version: "1.0.0",
		Phases:  []pkgmodel.Phase{{Name: "build", Script: `{{state "OK" "x" "y"}}`}},
	}
	_, err := scriptgen.Compile(pkg, nil, nil, []string{"build"}, "#!/bin/bash", true)
	require.Error(t, err)
}
