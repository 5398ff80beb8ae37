// Package pkgrepo loads the package-repository DSL tree into the
// format-agnostic pkgmodel. It mirrors the teacher's three-layer
// schema-to-config translation, retargeted from HCL step/resource blocks
// to package/source/patch/phase/dependency blocks, and adds the
// directory-hierarchy default inheritance spec.md's Config & Repo Loader
// requires.
package pkgrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/pkgschema"
)

const (
	packageFileSuffix = ".pkg.hcl"
	defaultsFileName  = "defaults.pkg.hcl"
)

// Loader walks a repository tree and produces a pkgmodel.Repository.
type Loader struct {
	AvailablePhases []string
	Compatibility   int

	parser *hclparse.Parser
}

// NewLoader returns a Loader validating phase names against
// availablePhases and package compatibility against compatibility.
func NewLoader(availablePhases []string, compatibility int) *Loader {
	return &Loader{
		AvailablePhases: availablePhases,
		Compatibility:   compatibility,
		parser:          hclparse.NewParser(),
	}
}

// Load walks rootPath recursively, applying directory-level defaults
// inheritance, and returns the assembled repository.
func (l *Loader) Load(ctx context.Context, rootPath string) (*pkgmodel.Repository, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("pkgrepo: loading repository tree", "root", rootPath)

	repo := pkgmodel.NewRepository()
	if err := l.loadDir(ctx, rootPath, defaults{}, repo); err != nil {
		return nil, err
	}
	logger.Info("pkgrepo: repository loaded", "root", rootPath)
	return repo, nil
}

// loadDir processes one directory: it merges in this directory's own
// defaults.pkg.hcl (if present), translates every "*.pkg.hcl" file found
// directly in the directory, then recurses into subdirectories carrying
// the merged defaults forward.
func (l *Loader) loadDir(ctx context.Context, dir string, inherited defaults, repo *pkgmodel.Repository) error {
	logger := ctxlog.FromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading repository directory %s: %w", dir, err)
	}

	merged := inherited
	defaultsPath := filepath.Join(dir, defaultsFileName)
	if _, err := os.Stat(defaultsPath); err == nil {
		df, err := l.parseDefaults(defaultsPath)
		if err != nil {
			return err
		}
		merged = inherited.overlay(df)
	}

	var subdirs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			subdirs = append(subdirs, filepath.Join(dir, name))
			continue
		}
		if name == defaultsFileName || !hasPackageSuffix(name) {
			continue
		}
		path := filepath.Join(dir, name)
		pkg, err := l.loadPackageFile(path, merged)
		if err != nil {
			return err
		}
		logger.Debug("pkgrepo: loaded package", "path", path, "name", pkg.Name, "version", pkg.Version)
		repo.Add(pkg)
	}

	slices.Sort(subdirs)
	for _, sub := range subdirs {
		if err := l.loadDir(ctx, sub, merged, repo); err != nil {
			return err
		}
	}
	return nil
}

func hasPackageSuffix(name string) bool {
	return len(name) > len(packageFileSuffix) && name[len(name)-len(packageFileSuffix):] == packageFileSuffix
}

func (l *Loader) parseDefaults(path string) (*pkgschema.DefaultsFile, error) {
	hclFile, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "parsing defaults file", Err: diags}
	}
	var df pkgschema.DefaultsFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &df); diags.HasErrors() {
		return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "decoding defaults file", Err: diags}
	}
	return &df, nil
}

func (l *Loader) loadPackageFile(path string, d defaults) (*pkgmodel.Package, error) {
	hclFile, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "parsing package file", Err: diags}
	}

	var file pkgschema.File
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &file); diags.HasErrors() {
		return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "decoding package file", Err: diags}
	}
	if file.Package == nil {
		return nil, &ConfigError{Kind: SchemaViolation, Path: path, Msg: "file does not contain a package block"}
	}

	if file.Package.Compatibility != 0 && file.Package.Compatibility != l.Compatibility {
		return nil, &ConfigError{
			Kind: CompatibilityMismatch,
			Path: path,
			Msg:  fmt.Sprintf("package declares compatibility %d, configured compatibility is %d", file.Package.Compatibility, l.Compatibility),
		}
	}

	for _, ph := range file.Package.Phases {
		if !slices.Contains(l.AvailablePhases, ph.Name) {
			return nil, &ConfigError{
				Kind: UnknownPhase,
				Path: path,
				Msg:  fmt.Sprintf("phase %q is not in available_phases", ph.Name),
			}
		}
	}

	pkg, err := translatePackage(path, file.Package, d)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}
