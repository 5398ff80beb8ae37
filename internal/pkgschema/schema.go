// Package pkgschema holds the gohcl-tagged block structs for the
// package-repository DSL: one ".pkg.hcl" file per package version,
// arranged in a directory hierarchy that a child inherits from and may
// override piecewise.
package pkgschema

import "github.com/hashicorp/hcl/v2"

// Hash describes the expected checksum of a source artifact.
type Hash struct {
	Algo string `hcl:"algo"`
	Hex  string `hcl:"hex"`
}

// Source is a `source` block declaring one fetchable input to a package.
type Source struct {
	Key  string `hcl:"key,label"`
	URL  string `hcl:"url"`
	Hash *Hash  `hcl:"hash,block"`
}

// Patch is a `patch` block naming a file applied against unpacked sources.
type Patch struct {
	File string `hcl:"file,label"`
}

// Dependencies is the `dependencies` block splitting edges by kind.
type Dependencies struct {
	Build   []string `hcl:"build,optional"`
	Runtime []string `hcl:"runtime,optional"`
}

// Phase is a named section of the build script, e.g.
// `phase "unpack" { script = <<-EOT ... EOT }`.
type Phase struct {
	Name   string `hcl:"name,label"`
	Script string `hcl:"script"`
}

// Package is a `package "name" "version" { ... }` block: the top-level
// unit of the repository DSL.
type Package struct {
	Name          string            `hcl:"name,label"`
	Version       string            `hcl:"version,label"`
	Compatibility int               `hcl:"compatibility,optional"`
	Sources       []*Source         `hcl:"source,block"`
	Patches       []*Patch          `hcl:"patch,block"`
	Dependencies  *Dependencies     `hcl:"dependencies,block"`
	Phases        []*Phase          `hcl:"phase,block"`
	Env           map[string]string `hcl:"env,optional"`
	AllowedImages []string          `hcl:"allowed_images,optional"`
	DeniedImages  []string          `hcl:"denied_images,optional"`
	Flags         map[string]bool   `hcl:"flags,optional"`
}

// File is the top-level structure of one parsed ".pkg.hcl" file. A single
// file holds at most one Package block; the directory-inheritance pass in
// pkgrepo overlays the enclosing directories' DefaultsFiles onto it.
type File struct {
	Package *Package `hcl:"package,block"`
	Body    hcl.Body `hcl:",remain"`
}

// DefaultsFile is the top-level structure of a directory-level
// "defaults.pkg.hcl" file. Its fields cascade down to every package file
// found in its directory subtree, unless a package sets the field itself.
type DefaultsFile struct {
	Env           map[string]string `hcl:"env,optional"`
	AllowedImages []string          `hcl:"allowed_images,optional"`
	DeniedImages  []string          `hcl:"denied_images,optional"`
	Flags         map[string]bool   `hcl:"flags,optional"`
	Body          hcl.Body          `hcl:",remain"`
}
