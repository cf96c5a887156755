// Package config loads and validates the Chronos YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ServerURL is the base URL of the calendar backend (e.g. "https://calendar.example.com").
	ServerURL string `yaml:"server_url"`

	// APIToken is the bearer token used to authenticate with the backend.
	APIToken string `yaml:"api_token"`

	// SyncInterval controls how often the background sync pass runs.
	// Minimum 30s, maximum 1h. Defaults to 5m if unset.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// RetentionDays bounds the local event cache to events within this many
	// days of now, in both directions. Defaults to 45.
	RetentionDays int `yaml:"retention_days"`

	// ProbeInterval controls how often connectivity to the backend is
	// checked. Defaults to 30s if unset.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// Calendars optionally restricts sync to these calendar IDs. Empty means
	// every calendar visible to the account.
	Calendars []string `yaml:"calendars,omitempty"`

	// DBPath overrides the location of the SQLite cache file.
	// Defaults to ~/.local/share/chronos/cache.db.
	DBPath string `yaml:"db_path,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "chronos".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/chronos/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "chronos", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// RetentionRadius returns the cache retention window as a duration either
// side of now.
func (c *Config) RetentionRadius() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.ParseRequestURI(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server_url %q must be a valid http or https URL", c.ServerURL)
	}

	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.SyncInterval < 30*time.Second {
		return fmt.Errorf("sync_interval %v is too short (minimum 30s)", c.SyncInterval)
	}
	if c.SyncInterval > time.Hour {
		return fmt.Errorf("sync_interval %v is too long (maximum 1h)", c.SyncInterval)
	}

	if c.RetentionDays == 0 {
		c.RetentionDays = 45
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days %d must be positive", c.RetentionDays)
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.ProbeInterval < 5*time.Second {
		return fmt.Errorf("probe_interval %v is too short (minimum 5s)", c.ProbeInterval)
	}

	for _, id := range c.Calendars {
		if id == "" {
			return fmt.Errorf("calendars contains an empty calendar ID")
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
