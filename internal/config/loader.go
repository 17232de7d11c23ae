package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader reads YAML configuration files and keeps the parsed result
// available for concurrent readers. A zero Load yields the defaults.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
}

func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load parses the file at path over the defaults. Environment variable
// references of the form ${VAR} or ${VAR:-default} are substituted
// before parsing.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.filePath = path
	return nil
}

// Reload re-reads the previously loaded file.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return l.Load(path)
}

// Get returns the current configuration.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the loaded config file, or "" if none.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return strings.TrimPrefix(def, ":-")
	})
}

// GenerateDefault writes a starter config file with the default values.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	header := "# TraceLens configuration.\n# Values may reference environment variables as ${VAR} or ${VAR:-default}.\n\n"
	return os.WriteFile(path, append([]byte(header), data...), 0644)
}
