package admission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/admission"
	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/pkgmodel"
)

func TestCheckImageAllowsListedImage(t *testing.T) {
	docker := appconfig.DockerConfig{Images: []appconfig.DockerImage{{Name: "alpine:3.19", ShortName: "alpine"}}}
	err := admission.CheckImage(docker, "alpine:3.19", nil)
	require.NoError(t, err)
}

func TestCheckImageRejectsUnlistedImage(t *testing.T) {
	docker := appconfig.DockerConfig{Images: []appconfig.DockerImage{{Name: "alpine:3.19"}}}
	err := admission.CheckImage(docker, "debian:12", nil)
	require.Error(t, err)

	var aerr *admission.AdmissionError
	require.ErrorAs(t, err, &aerr)
	assert.Len(t, aerr.Violations, 1)
}

func TestCheckImageRejectsPackageDeniedImage(t *testing.T) {
	docker := appconfig.DockerConfig{}
	pkgs := []*pkgmodel.Package{{Name: "foo", Version: "1.0.0", DeniedImages: []string{"alpine:3.19"}}}
	err := admission.CheckImage(docker, "alpine:3.19", pkgs)
	require.Error(t, err)
}

func TestCheckImageRejectsImageOutsidePackageAllowList(t *testing.T) {
	docker := appconfig.DockerConfig{}
	pkgs := []*pkgmodel.Package{{Name: "foo", Version: "1.0.0", AllowedImages: []string{"debian:12"}}}
	err := admission.CheckImage(docker, "alpine:3.19", pkgs)
	require.Error(t, err)
}

func TestCheckImageAggregatesMultipleViolations(t *testing.T) {
	docker := appconfig.DockerConfig{Images: []appconfig.DockerImage{{Name: "debian:12"}}}
	pkgs := []*pkgmodel.Package{
		{Name: "foo", Version: "1.0.0", DeniedImages: []string{"alpine:3.19"}},
		{Name: "bar", Version: "2.0.0", AllowedImages: []string{"debian:12"}},
	}
	err := admission.CheckImage(docker, "alpine:3.19", pkgs)
	require.Error(t, err)

	var aerr *admission.AdmissionError
	require.ErrorAs(t, err, &aerr)
	assert.Len(t, aerr.Violations, 3)
}

func TestCheckEnvNamesNoopWhenDisabled(t *testing.T) {
	cfg := appconfig.ContainersConfig{CheckEnvNames: false}
	err := admission.CheckEnvNames(cfg, []string{"ANYTHING"})
	require.NoError(t, err)
}

func TestCheckEnvNamesRejectsUnlistedName(t *testing.T) {
	cfg := appconfig.ContainersConfig{CheckEnvNames: true, AllowedEnv: []string{"PATH", "HOME"}}
	err := admission.CheckEnvNames(cfg, []string{"PATH", "SECRET_TOKEN"})
	require.Error(t, err)

	var aerr *admission.AdmissionError
	require.ErrorAs(t, err, &aerr)
	assert.Len(t, aerr.Violations, 1)
	assert.Contains(t, aerr.Violations[0], "SECRET_TOKEN")
}

func TestCheckEnvNamesAllowsListedNames(t *testing.T) {
	cfg := appconfig.ContainersConfig{CheckEnvNames: true, AllowedEnv: []string{"PATH", "HOME"}}
	err := admission.CheckEnvNames(cfg, []string{"PATH", "HOME"})
	require.NoError(t, err)
}
