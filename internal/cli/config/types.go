// Package config provides configuration management for the sacred CLI.
package config

import "time"

// Default configuration values.
const (
	DefaultStateFile = ".sacred/runs.db"
	DefaultDriver    = "sqlite"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultPort      = 8766
	DefaultDebounce  = 500 * time.Millisecond
)

// Config holds all CLI configuration options.
type Config struct {
	StatePath    string        `koanf:"state_path"`
	Driver       string        `koanf:"driver"`
	DSN          string        `koanf:"dsn"`
	Verbose      bool          `koanf:"verbose"`
	OutputFormat string        `koanf:"output"`
	Serve        *ServeConfig  `koanf:"serve"`
	Ingest       *IngestConfig `koanf:"ingest"`
	TestRail     *TestRail     `koanf:"testrail"`
}

// ServeConfig holds configuration for the HTTP API server.
type ServeConfig struct {
	Port int `koanf:"port"`
}

// IngestConfig holds configuration for event log ingestion.
type IngestConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// TestRail configures posting run outcomes to a TestRail instance. It is
// disabled unless URL is set.
type TestRail struct {
	URL        string        `koanf:"url"`
	User       string        `koanf:"user"`
	APIKey     string        `koanf:"api_key"`
	ProjectID  int           `koanf:"project_id"`
	CaseID     int           `koanf:"case_id"`
	RunID      int           `koanf:"run_id"`
	StoreFiles bool          `koanf:"store_files"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Enabled reports whether results should be posted.
func (t *TestRail) Enabled() bool {
	return t != nil && t.URL != ""
}

// GetServeConfig returns the serve config with defaults applied for any unset values.
func (c *Config) GetServeConfig() *ServeConfig {
	if c.Serve == nil {
		return &ServeConfig{Port: DefaultPort}
	}
	serve := *c.Serve
	if serve.Port == 0 {
		serve.Port = DefaultPort
	}
	return &serve
}

// GetIngestConfig returns the ingest config with defaults applied for any unset values.
func (c *Config) GetIngestConfig() *IngestConfig {
	if c.Ingest == nil {
		return &IngestConfig{Debounce: DefaultDebounce}
	}
	ingest := *c.Ingest
	if ingest.Debounce <= 0 {
		ingest.Debounce = DefaultDebounce
	}
	return &ingest
}
