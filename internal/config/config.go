package config

import (
	"time"
)

// Config is the top-level TraceLens configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Report ReportConfig `yaml:"report"`
	Watch  WatchConfig  `yaml:"watch"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`

	// StreamTimeout bounds how long a websocket row stream may run
	// before the server cancels the query.
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

type ReportConfig struct {
	// RowLimit is the default row limit for reports that accept one.
	RowLimit int64  `yaml:"row_limit"`
	Format   string `yaml:"format"` // "csv" or "table"
}

type WatchConfig struct {
	Dir     string   `yaml:"dir"`
	Pattern string   `yaml:"pattern"` // filename glob for trace databases
	Report  string   `yaml:"report"`
	Args    []string `yaml:"args"`
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          7707,
			LogLevel:      "info",
			CORS:          false,
			StreamTimeout: 5 * time.Minute,
		},
		Report: ReportConfig{
			RowLimit: 50,
			Format:   "table",
		},
		Watch: WatchConfig{
			Pattern: "*.sqlite",
			Report:  "gpusum",
		},
	}
}
