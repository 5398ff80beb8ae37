package pkgrepo_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/pkgrepo"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadSimplePackage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "a-1.pkg.hcl"), `
package "a" "1" {
  dependencies {
    runtime = ["b@^1.0.0"]
  }
  phase "build" {
    script = "make"
  }
}
`)

	loader := pkgrepo.NewLoader([]string{"unpack", "build", "pack"}, 0)
	repo, err := loader.Load(testContext(), root)
	require.NoError(t, err)

	pkg, ok := repo.Get("a", "1")
	require.True(t, ok)
	assert.Equal(t, "a", pkg.Name)
	require.Len(t, pkg.Dependencies.Runtime, 1)
	assert.Equal(t, "b", pkg.Dependencies.Runtime[0].Name)
	assert.Equal(t, "^1.0.0", pkg.Dependencies.Runtime[0].Constraint)
	ph, ok := pkg.Phase("build")
	require.True(t, ok)
	assert.Equal(t, "make", ph.Script)
}

func TestLoadUnknownPhaseFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pkg.hcl"), `
package "a" "1" {
  phase "mystery" {
    script = "echo hi"
  }
}
`)

	loader := pkgrepo.NewLoader([]string{"unpack", "build"}, 0)
	_, err := loader.Load(testContext(), root)
	require.Error(t, err)

	var cfgErr *pkgrepo.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, pkgrepo.UnknownPhase, cfgErr.Kind)
}

func TestLoadCompatibilityMismatchFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pkg.hcl"), `
package "a" "1" {
  compatibility = 2
}
`)

	loader := pkgrepo.NewLoader(nil, 1)
	_, err := loader.Load(testContext(), root)
	require.Error(t, err)

	var cfgErr *pkgrepo.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, pkgrepo.CompatibilityMismatch, cfgErr.Kind)
}

func TestDirectoryDefaultsInheritAndOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "defaults.pkg.hcl"), `
allowed_images = ["debian:bullseye"]
`)
	writeFile(t, filepath.Join(root, "sub", "defaults.pkg.hcl"), `
allowed_images = ["alpine:3.19"]
`)
	writeFile(t, filepath.Join(root, "sub", "a.pkg.hcl"), `
package "a" "1" {}
`)
	writeFile(t, filepath.Join(root, "b.pkg.hcl"), `
package "b" "1" {}
`)

	loader := pkgrepo.NewLoader(nil, 0)
	repo, err := loader.Load(testContext(), root)
	require.NoError(t, err)

	a, ok := repo.Get("a", "1")
	require.True(t, ok)
	assert.Equal(t, []string{"alpine:3.19"}, a.AllowedImages)

	b, ok := repo.Get("b", "1")
	require.True(t, ok)
	assert.Equal(t, []string{"debian:bullseye"}, b.AllowedImages)
}
