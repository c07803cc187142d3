package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".hivemind"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// DBFile is the database file name inside the data directory.
	DBFile = "hivemind.db"
)

// ConfigPath returns the path to the config file. HIVEMIND_CONFIG wins;
// otherwise the first existing of config.json, config.yaml and config.yml
// under ~/.hivemind, defaulting to config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("HIVEMIND_CONFIG")); explicit != "" {
		return expandHomeWith(explicit, resolveHomeDir)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ConfigDir)
	for _, name := range []string{ConfigFile, "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return filepath.Join(dir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("HIVEMIND_HOME")); h != "" {
		return expandHomeWith(h, os.UserHomeDir)
	}
	return os.UserHomeDir()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	return expandHomeWith(path, os.UserHomeDir)
}

func expandHomeWith(path string, home func() (string, error)) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	base, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, path[1:]), nil
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() (string, error) {
	if c.Paths.DBPath != "" {
		return ExpandHome(c.Paths.DBPath)
	}
	dir, err := ExpandHome(c.Paths.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFile), nil
}

// envGroups maps each config group to its environment prefix.
func (c *Config) envGroups() []struct {
	prefix string
	target any
} {
	return []struct {
		prefix string
		target any
	}{
		{"HIVEMIND_PATHS", &c.Paths},
		{"HIVEMIND_SERVER", &c.Server},
		{"HIVEMIND_HOOKS", &c.Hooks},
		{"HIVEMIND_CONTEXT", &c.Context},
		{"HIVEMIND_MEMORY", &c.Memory},
		{"HIVEMIND_MEMORY_EMBEDDING", &c.Memory.Embedding},
		{"HIVEMIND_BROADCAST", &c.Broadcast},
		{"HIVEMIND_SCHEDULER", &c.Scheduler},
		{"HIVEMIND_LOG", &c.Log},
	}
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/hivemind/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	for _, g := range cfg.envGroups() {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("config env %s: %w", g.prefix, err)
		}
	}
	// The conventional OpenAI variable fills an unset embedding key.
	if cfg.Memory.Embedding.APIKey == "" {
		cfg.Memory.Embedding.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	return cfg, nil
}

// Save writes cfg as indented JSON to ConfigPath.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// parseConfigFile decodes a JSON (comments and trailing commas allowed) or
// YAML file into a generic object.
func parseConfigFile(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseConfigFile(absPath, data)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// substituteEnvValues replaces ${VAR} in string values with the variable's
// value; unknown variables are left as written.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
