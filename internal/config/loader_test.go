package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tracelens.yaml")

	yamlContent := `
server:
  port: 8080
  log_level: debug
  cors: true
  stream_timeout: 30s

report:
  row_limit: 100
  format: csv

watch:
  dir: ./traces
  pattern: "*.nsys-rep.sqlite"
  report: gpukernsum
  args:
    - base
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if !cfg.Server.CORS {
		t.Error("Server.CORS = false, want true")
	}
	if cfg.Server.StreamTimeout != 30*time.Second {
		t.Errorf("Server.StreamTimeout = %v, want 30s", cfg.Server.StreamTimeout)
	}

	if cfg.Report.RowLimit != 100 {
		t.Errorf("Report.RowLimit = %d, want 100", cfg.Report.RowLimit)
	}
	if cfg.Report.Format != "csv" {
		t.Errorf("Report.Format = %q, want \"csv\"", cfg.Report.Format)
	}

	if cfg.Watch.Dir != "./traces" {
		t.Errorf("Watch.Dir = %q, want \"./traces\"", cfg.Watch.Dir)
	}
	if cfg.Watch.Pattern != "*.nsys-rep.sqlite" {
		t.Errorf("Watch.Pattern = %q, want \"*.nsys-rep.sqlite\"", cfg.Watch.Pattern)
	}
	if cfg.Watch.Report != "gpukernsum" {
		t.Errorf("Watch.Report = %q, want \"gpukernsum\"", cfg.Watch.Report)
	}
	if len(cfg.Watch.Args) != 1 || cfg.Watch.Args[0] != "base" {
		t.Errorf("Watch.Args = %v, want [base]", cfg.Watch.Args)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	loader := NewLoader()
	cfg := loader.Get()

	if cfg.Server.Port != 7707 {
		t.Errorf("default Server.Port = %d, want 7707", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("default Server.LogLevel = %q, want \"info\"", cfg.Server.LogLevel)
	}
	if cfg.Report.RowLimit != 50 {
		t.Errorf("default Report.RowLimit = %d, want 50", cfg.Report.RowLimit)
	}
	if cfg.Report.Format != "table" {
		t.Errorf("default Report.Format = %q, want \"table\"", cfg.Report.Format)
	}
	if cfg.Watch.Pattern != "*.sqlite" {
		t.Errorf("default Watch.Pattern = %q, want \"*.sqlite\"", cfg.Watch.Pattern)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	loader := NewLoader()
	err := loader.Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte(`{{{invalid yaml`), 0644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}

	loader := NewLoader()
	err := loader.Load(configPath)
	if err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestLoader_FilePath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tracelens.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if loader.FilePath() != "" {
		t.Errorf("FilePath() before Load() = %q, want empty", loader.FilePath())
	}

	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.FilePath() != configPath {
		t.Errorf("FilePath() = %q, want %q", loader.FilePath(), configPath)
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tracelens.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.Get().Server.Port != 8080 {
		t.Errorf("initial port = %d, want 8080", loader.Get().Server.Port)
	}

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}

	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if loader.Get().Server.Port != 9999 {
		t.Errorf("reloaded port = %d, want 9999", loader.Get().Server.Port)
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	loader := NewLoader()
	err := loader.Reload()
	if err == nil {
		t.Error("Reload() without prior Load() should return error")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_TL_PORT", "9999")
	os.Setenv("TEST_TL_FORMAT", "csv")
	defer os.Unsetenv("TEST_TL_PORT")
	defer os.Unsetenv("TEST_TL_FORMAT")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "port: ${TEST_TL_PORT}",
			want:  "port: 9999",
		},
		{
			name:  "multiple substitutions",
			input: "port: ${TEST_TL_PORT}\nformat: ${TEST_TL_FORMAT}",
			want:  "port: 9999\nformat: csv",
		},
		{
			name:  "undefined variable",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ}",
			want:  "value: ",
		},
		{
			name:  "default value syntax",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ:-default-val}",
			want:  "value: default-val",
		},
		{
			name:  "default value not used when env var set",
			input: "port: ${TEST_TL_PORT:-1234}",
			want:  "port: 9999",
		},
		{
			name:  "no env vars",
			input: "port: 8080",
			want:  "port: 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	os.Setenv("TEST_TL_CFG_PORT", "7777")
	defer os.Unsetenv("TEST_TL_CFG_PORT")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "tracelens.yaml")

	yamlContent := `
server:
  port: ${TEST_TL_CFG_PORT}
  log_level: info
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port with env var = %d, want 7777", cfg.Server.Port)
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tracelens.yaml")

	if err := GenerateDefault(configPath); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read generated config: %v", err)
	}
	if len(data) == 0 {
		t.Error("generated config is empty")
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 7707 {
		t.Errorf("generated config port = %d, want 7707", cfg.Server.Port)
	}
}
