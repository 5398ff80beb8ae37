// Package pkgmodel holds the format-agnostic package-repository types:
// the shape pkgrepo produces once it has translated the HCL-specific
// pkgschema structs and applied directory-hierarchy inheritance. Nothing
// in this package imports HCL.
package pkgmodel

// Hash is the expected checksum of a source artifact.
type Hash struct {
	Algo string
	Hex  string
}

// Source is one fetchable input to a package, keyed within the package by
// Key. Hash.Hex, not Key, names the on-disk cache file and the uploaded
// "/inputs/src-<hash>.source" artifact.
type Source struct {
	Key           string
	URL           string
	Hash          Hash
	CachePath     string
}

// Patch is a file applied against a package's unpacked sources, in
// declaration order.
type Patch struct {
	File string
}

// Dependencies splits a package's edges by scheduling/propagation kind.
// Both kinds gate scheduling; only Runtime propagates transitively into a
// downstream job's input set.
type Dependencies struct {
	Build   []DependencySelector
	Runtime []DependencySelector
}

// DependencySelector is a parsed "name" or "name@constraint" dependency
// string: a target package name plus an optional version constraint.
type DependencySelector struct {
	Name       string
	Constraint string // raw constraint text; "" means "any version"
}

// Phase is one named, ordered section of a package's build script.
type Phase struct {
	Name   string
	Script string
}

// Package is one fully-resolved (name, version) package definition,
// immutable once loaded from the repository tree.
type Package struct {
	Name          string
	Version       string
	Sources       []Source
	Patches       []Patch
	Dependencies  Dependencies
	Phases        []Phase
	Env           map[string]string
	AllowedImages []string
	DeniedImages  []string
	Flags         map[string]bool
}

// Phase looks up a phase by name, returning ok=false if the package does
// not define it.
func (p *Package) Phase(name string) (Phase, bool) {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph, true
		}
	}
	return Phase{}, false
}

// Repository is the full in-memory tree of loaded packages, keyed by name
// then version.
type Repository struct {
	packages map[string]map[string]*Package
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{packages: make(map[string]map[string]*Package)}
}

// Add inserts or replaces a package definition.
func (r *Repository) Add(pkg *Package) {
	byVersion, ok := r.packages[pkg.Name]
	if !ok {
		byVersion = make(map[string]*Package)
		r.packages[pkg.Name] = byVersion
	}
	byVersion[pkg.Version] = pkg
}

// Get returns the exact (name, version) package, if loaded.
func (r *Repository) Get(name, version string) (*Package, bool) {
	byVersion, ok := r.packages[name]
	if !ok {
		return nil, false
	}
	pkg, ok := byVersion[version]
	return pkg, ok
}

// Candidates returns every loaded version of name, in no particular order;
// callers that need determinism sort the result themselves (the resolver
// sorts by name then version ascending).
func (r *Repository) Candidates(name string) []*Package {
	byVersion, ok := r.packages[name]
	if !ok {
		return nil
	}
	out := make([]*Package, 0, len(byVersion))
	for _, pkg := range byVersion {
		out = append(out, pkg)
	}
	return out
}
