package appconfig

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vk/forgegrid/internal/ctxlog"
)

// OverrideFileName is the per-directory override file name looked for
// while walking upward from the current working directory.
const OverrideFileName = ".forgegrid.yml"

// Load reads rootConfigPath (the base configuration; an empty path skips
// it and starts from Default()) and then
// layers in any OverrideFileName found walking upward from startDir to
// the filesystem root, applying the most distant ancestor first so that
// the override closest to startDir wins last. Keys are merged
// last-writer-wins at every nesting level; Config fields absent from
// every layer keep their Default() value.
func Load(ctx context.Context, rootConfigPath, startDir string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)

	base, err := toMap(Default())
	if err != nil {
		return nil, &ConfigError{Path: rootConfigPath, Msg: "encoding defaults", Err: err}
	}

	if rootConfigPath != "" {
		layer, err := readYAMLFile(rootConfigPath)
		if err != nil {
			return nil, err
		}
		base = deepMerge(base, layer)
		logger.Debug("appconfig: applied root config", "path", rootConfigPath)
	}

	dirs, err := ancestorsOutsideIn(startDir)
	if err != nil {
		return nil, &ConfigError{Path: startDir, Msg: "walking directory tree", Err: err}
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, OverrideFileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		layer, err := readYAMLFile(path)
		if err != nil {
			return nil, err
		}
		base = deepMerge(base, layer)
		logger.Debug("appconfig: applied directory override", "path", path)
	}

	var cfg Config
	out, err := yaml.Marshal(base)
	if err != nil {
		return nil, &ConfigError{Path: startDir, Msg: "re-encoding merged config", Err: err}
	}
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, &ConfigError{Path: startDir, Msg: "decoding merged config", Err: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	logger.Info("appconfig: configuration loaded", "root", rootConfigPath, "overrides", len(dirs))
	return &cfg, nil
}

func readYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Msg: "reading config file", Err: err}
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ConfigError{Path: path, Msg: "parsing YAML", Err: err}
	}
	return m, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ancestorsOutsideIn returns startDir and every ancestor directory up to
// the filesystem root, ordered from the root-most ancestor down to
// startDir itself.
func ancestorsOutsideIn(startDir string) ([]string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for {
		dirs = append(dirs, abs)
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs, nil
}

// deepMerge overlays src onto dst: nested maps merge key-by-key
// recursively, any other value type (including lists) is replaced
// wholesale by src's value. dst is not mutated; the merged result is
// returned.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	for k, sv := range src {
		if dv, ok := out[k]; ok {
			dMap, dOK := dv.(map[string]any)
			sMap, sOK := sv.(map[string]any)
			if dOK && sOK {
				out[k] = deepMerge(dMap, sMap)
				continue
			}
		}
		out[k] = sv
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.ReleasesRoot == "" {
		return &ConfigError{Msg: "releases_root is required"}
	}
	if len(cfg.ReleaseStores) == 0 {
		return &ConfigError{Msg: "release_stores must name at least one store"}
	}
	if cfg.Staging == "" {
		return &ConfigError{Msg: "staging is required"}
	}
	return nil
}
