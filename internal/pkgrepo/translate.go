package pkgrepo

import (
	"strings"

	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/pkgschema"
	"github.com/vk/forgegrid/internal/semverconstraint"
)

// defaults is the accumulated directory-level inheritance state: a child
// directory's own defaults.pkg.hcl overrides only the fields it sets, and
// everything flows wholesale (no merging) into each package's own
// unset fields.
type defaults struct {
	env           map[string]string
	allowedImages []string
	deniedImages  []string
	flags         map[string]bool
}

// overlay returns a new defaults with child's set fields replacing the
// parent's; a field child does not set (nil) keeps the parent's value.
func (parent defaults) overlay(child *pkgschema.DefaultsFile) defaults {
	out := parent
	if child == nil {
		return out
	}
	if child.Env != nil {
		out.env = child.Env
	}
	if child.AllowedImages != nil {
		out.allowedImages = child.AllowedImages
	}
	if child.DeniedImages != nil {
		out.deniedImages = child.DeniedImages
	}
	if child.Flags != nil {
		out.flags = child.Flags
	}
	return out
}

// translatePackage converts one HCL package block, already merged with the
// directory's inherited defaults, into the format-agnostic model.
func translatePackage(path string, s *pkgschema.Package, d defaults) (*pkgmodel.Package, error) {
	pkg := &pkgmodel.Package{
		Name:          s.Name,
		Version:       s.Version,
		Env:           s.Env,
		AllowedImages: s.AllowedImages,
		DeniedImages:  s.DeniedImages,
		Flags:         s.Flags,
	}
	if pkg.Env == nil {
		pkg.Env = d.env
	}
	if pkg.AllowedImages == nil {
		pkg.AllowedImages = d.allowedImages
	}
	if pkg.DeniedImages == nil {
		pkg.DeniedImages = d.deniedImages
	}
	if pkg.Flags == nil {
		pkg.Flags = d.flags
	}

	for _, src := range s.Sources {
		out := pkgmodel.Source{Key: src.Key, URL: src.URL}
		if src.Hash != nil {
			out.Hash = pkgmodel.Hash{Algo: src.Hash.Algo, Hex: src.Hash.Hex}
		}
		pkg.Sources = append(pkg.Sources, out)
	}
	for _, p := range s.Patches {
		pkg.Patches = append(pkg.Patches, pkgmodel.Patch{File: p.File})
	}
	for _, ph := range s.Phases {
		pkg.Phases = append(pkg.Phases, pkgmodel.Phase{Name: ph.Name, Script: ph.Script})
	}

	if s.Dependencies != nil {
		for _, raw := range s.Dependencies.Build {
			sel, err := parseDependencySelector(raw)
			if err != nil {
				return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "invalid build dependency", Err: err}
			}
			pkg.Dependencies.Build = append(pkg.Dependencies.Build, sel)
		}
		for _, raw := range s.Dependencies.Runtime {
			sel, err := parseDependencySelector(raw)
			if err != nil {
				return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "invalid runtime dependency", Err: err}
			}
			pkg.Dependencies.Runtime = append(pkg.Dependencies.Runtime, sel)
		}
	}

	return pkg, nil
}

// parseDependencySelector parses "name" or "name@constraint" into its
// target name and raw constraint text, validating the constraint grammar
// eagerly so malformed ranges fail at load time rather than at resolve time.
func parseDependencySelector(raw string) (pkgmodel.DependencySelector, error) {
	name, constraint, hasConstraint := strings.Cut(raw, "@")
	name = strings.TrimSpace(name)
	sel := pkgmodel.DependencySelector{Name: name}
	if hasConstraint {
		constraint = strings.TrimSpace(constraint)
		if _, err := semverconstraint.Parse(constraint); err != nil {
			return pkgmodel.DependencySelector{}, err
		}
		sel.Constraint = constraint
	}
	return sel, nil
}
