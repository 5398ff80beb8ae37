// Package admission runs the pre-flight checks spec.md's invariants I4
// and I5 require before a submit's worker pool is ever started: the
// chosen container image must satisfy the global allow-list plus every
// scheduled package's own allow/deny lists, and (when enabled) every
// env var name headed for a container must be on the configured
// allow-list. Grounded on the teacher's registry.ValidateRegistry,
// which accumulates every mismatch into one joined error instead of
// failing fast on the first one.
package admission

import (
	"fmt"
	"strings"

	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/pkgmodel"
)

// AdmissionError aggregates every admission violation found for one
// submit, so a caller sees the whole picture in one report instead of
// having to fix and resubmit repeatedly.
type AdmissionError struct {
	Violations []string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission failed:\n- %s", strings.Join(e.Violations, "\n- "))
}

// CheckImage validates image against the global allow-list and every
// package's own allowed/denied image lists (I4).
func CheckImage(docker appconfig.DockerConfig, image string, packages []*pkgmodel.Package) error {
	var violations []string

	if len(docker.Images) > 0 && !imageAllowListed(docker.Images, image) {
		violations = append(violations, fmt.Sprintf("image %q is not in the global allow-list", image))
	}

	for _, pkg := range packages {
		if contains(pkg.DeniedImages, image) {
			violations = append(violations, fmt.Sprintf("package %s@%s denies image %q", pkg.Name, pkg.Version, image))
		}
		if len(pkg.AllowedImages) > 0 && !contains(pkg.AllowedImages, image) {
			violations = append(violations, fmt.Sprintf("package %s@%s requires one of %v, got %q", pkg.Name, pkg.Version, pkg.AllowedImages, image))
		}
	}

	if len(violations) > 0 {
		return &AdmissionError{Violations: violations}
	}
	return nil
}

func imageAllowListed(images []appconfig.DockerImage, image string) bool {
	for _, img := range images {
		if img.Name == image || img.ShortName == image {
			return true
		}
	}
	return false
}

// CheckEnvNames validates every name in envNames against the
// configured allow-list (I5). It is a no-op when env-name checking is
// disabled in config.
func CheckEnvNames(containers appconfig.ContainersConfig, envNames []string) error {
	if !containers.CheckEnvNames {
		return nil
	}

	var violations []string
	for _, name := range envNames {
		if !contains(containers.AllowedEnv, name) {
			violations = append(violations, fmt.Sprintf("environment variable %q is not on the allow-list", name))
		}
	}

	if len(violations) > 0 {
		return &AdmissionError{Violations: violations}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
