// Package appconfig loads the orchestrator's application-level settings:
// a layered, directory-walking YAML configuration distinct from the
// package-repository DSL loaded by pkgrepo. The teacher reserves HCL for
// its grid files and plain Go structs for app.Config; this package keeps
// that same split, using gopkg.in/yaml.v3 for the one file kind HCL does
// not own here.
package appconfig

// Config is the fully merged application configuration.
type Config struct {
	Compatibility              int      `yaml:"compatibility"`
	Shebang                    string   `yaml:"shebang"`
	BuildErrorLines            int      `yaml:"build_error_lines"`
	ScriptHighlightTheme       string   `yaml:"script_highlight_theme,omitempty"`
	ScriptLinter                string   `yaml:"script_linter,omitempty"`
	ReleasesRoot               string   `yaml:"releases_root"`
	ReleaseStores               []string `yaml:"release_stores"`
	Staging                    string   `yaml:"staging"`
	SourceCache                string   `yaml:"source_cache"`
	LogDir                     string   `yaml:"log_dir"`
	StrictScriptInterpolation  bool     `yaml:"strict_script_interpolation"`
	AvailablePhases             []string `yaml:"available_phases"`

	Database   DatabaseConfig      `yaml:"database"`
	Docker     DockerConfig        `yaml:"docker"`
	Containers ContainersConfig    `yaml:"containers"`
}

// DatabaseConfig holds the audit store's Postgres connection parameters.
// Its String/LogValue both redact Password so a DatabaseConfig can be
// logged or printed safely.
type DatabaseConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	Name              string `yaml:"name"`
	ConnectionTimeout int    `yaml:"connection_timeout"`
}

// DockerImage is one entry in docker.images: an allow-listed image and its
// short display name.
type DockerImage struct {
	Name      string `yaml:"name"`
	ShortName string `yaml:"short_name"`
}

// DockerEndpoint is one entry in docker.endpoints.<name>.
type DockerEndpoint struct {
	URI          string `yaml:"uri"`
	EndpointType string `yaml:"endpoint_type"`
	Timeout      int    `yaml:"timeout"`
	MaxJobs      int    `yaml:"maxjobs"`
}

// DockerConfig is the docker.* configuration section.
type DockerConfig struct {
	Images    []DockerImage             `yaml:"images"`
	Endpoints map[string]DockerEndpoint `yaml:"endpoints"`
}

// ContainersConfig is the containers.* configuration section.
type ContainersConfig struct {
	CheckEnvNames bool     `yaml:"check_env_names"`
	AllowedEnv    []string `yaml:"allowed_env"`
	GitAuthor     string   `yaml:"git_author,omitempty"`
	GitCommitHash string   `yaml:"git_commit_hash,omitempty"`
}

// Default returns a Config populated with spec-mandated defaults, before
// any layered file is applied on top of it.
func Default() *Config {
	return &Config{
		Shebang:                   "#!/bin/bash",
		BuildErrorLines:           10,
		StrictScriptInterpolation: true,
		Database: DatabaseConfig{
			ConnectionTimeout: 30,
		},
	}
}
