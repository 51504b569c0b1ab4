package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
//
// Capture groups:
//   - Group 1: variable name
//   - Group 2: modifier ("-" for default, "?" for required)
//   - Group 3: default value or error message
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// SearchPaths are tried in order when no config path is given.
var SearchPaths = []string{
	"config.yaml",
	"config.yml",
	"amara.yaml",
	"configs/config.yaml",
}

// FindFile returns the first existing file from SearchPaths, or "".
func FindFile() string {
	for _, path := range SearchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads path (or the first file found on the search path), loading
// .env files and expanding environment references first. With no file
// at all the defaults are returned. Secrets are not resolved here.
func Load(path string) (*Config, string, error) {
	LoadEnvFiles()

	if path == "" {
		path = FindFile()
	}
	if path == "" {
		return DefaultConfig(), "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}

	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)
	return cfg, path, nil
}

// Parse overlays YAML onto DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions, keeping a .bak of
// any existing file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// LoadEnvFiles loads .env and .env.local without overriding variables
// already set in the process environment.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// ExpandEnv replaces environment references in input. Unset variables
// without a modifier keep their placeholder so secret resolution can fill
// them later; ${VAR:?message} fails when VAR is unset.
func ExpandEnv(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := m[1], m[2], m[3]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			missing = append(missing, name+": "+value)
		}
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment: %s", strings.Join(missing, "; "))
	}
	return out, nil
}

// IsEnvReference reports whether s is an unexpanded ${VAR} placeholder.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${")
}

// resolveRelativePaths anchors file paths to the config file's directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.Persona.PromptFile = resolvePath(cfg.Persona.PromptFile, dir)
	cfg.Database.Path = resolvePath(cfg.Database.Path, dir)
	cfg.Behavior.StageDir = resolvePath(cfg.Behavior.StageDir, dir)
}

func resolvePath(path, dir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
