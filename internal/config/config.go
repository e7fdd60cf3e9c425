// Package config loads the operator's bootstrap YAML configuration: listen
// address, data directory, and default seed values for a machine document
// created on first run. The document store (internal/store) is the source
// of truth afterwards; this file only seeds it.
package config

import (
	"fmt"
	"os"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of config.yaml.
type Config struct {
	// Listen is the host:port the HTTP server binds to.
	Listen string `yaml:"listen"`

	// DataDir is where per-machine JSON documents are stored.
	DataDir string `yaml:"data-dir"`

	// Debug enables verbose request logging.
	Debug bool `yaml:"debug"`

	// DefaultMachineID names the machine document served by the bare
	// (non-prefixed) route forms.
	DefaultMachineID string `yaml:"default-machine-id"`

	// KeySecret is the HMAC secret used to checksum structured API keys
	// (spec.md §4.7: sk-{machineId}-{keyId}-{crc8}).
	KeySecret string `yaml:"key-secret"`

	// Settings seeds MachineData.Settings for newly created machines.
	Settings SettingsConfig `yaml:"settings"`

	// SeedAPIKeys seeds MachineData.APIKeys for newly created machines.
	SeedAPIKeys []SeedAPIKey `yaml:"api-keys"`

	// SeedProviders seeds MachineData.Providers for newly created machines.
	SeedProviders []SeedProvider `yaml:"providers"`
}

// SettingsConfig mirrors model.Settings in YAML form.
type SettingsConfig struct {
	FallbackStrategy      string `yaml:"fallback-strategy"`
	StickyRoundRobinLimit int    `yaml:"sticky-round-robin-limit"`
	RequireAPIKey         bool   `yaml:"require-api-key"`
	Observability         struct {
		Enabled         bool `yaml:"enabled"`
		MaxRecords      int  `yaml:"max-records"`
		BatchSize       int  `yaml:"batch-size"`
		FlushIntervalMs int  `yaml:"flush-interval-ms"`
	} `yaml:"observability"`
}

// SeedAPIKey describes one API key to create on first boot. When Hashed is
// true, Key is stored as a bcrypt digest and compared accordingly; otherwise
// it is stored (and compared) as plaintext.
type SeedAPIKey struct {
	Name   string `yaml:"name"`
	Key    string `yaml:"key"`
	Hashed bool   `yaml:"hashed"`
}

// SeedProvider describes one provider connection to create on first boot.
type SeedProvider struct {
	ID       string         `yaml:"id"`
	Provider string         `yaml:"provider"`
	Priority int            `yaml:"priority"`
	APIKey   string         `yaml:"api-key"`
	BaseURL  string         `yaml:"base-url"`
	Extra    map[string]any `yaml:"extra"`
}

// Load reads and parses path into a Config, applying defaults for anything
// left unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a Config with sane defaults for local/dev use.
func Default() *Config {
	return &Config{
		Listen:           ":8317",
		DataDir:          "./data",
		DefaultMachineID: "default",
		Settings: SettingsConfig{
			FallbackStrategy:      "fill-first",
			StickyRoundRobinLimit: 3,
			RequireAPIKey:         true,
		},
	}
}

// ToMachineSettings converts the YAML settings block into model.Settings.
func (c *Config) ToMachineSettings() model.Settings {
	s := model.DefaultSettings()
	if c == nil {
		return s
	}
	if c.Settings.FallbackStrategy == string(model.StrategyRoundRobin) {
		s.FallbackStrategy = model.StrategyRoundRobin
	} else if c.Settings.FallbackStrategy == string(model.StrategyFillFirst) {
		s.FallbackStrategy = model.StrategyFillFirst
	}
	if c.Settings.StickyRoundRobinLimit > 0 {
		s.StickyRoundRobinLimit = c.Settings.StickyRoundRobinLimit
	}
	s.RequireAPIKey = c.Settings.RequireAPIKey
	if c.Settings.Observability.MaxRecords > 0 {
		s.Observability.Enabled = c.Settings.Observability.Enabled
		s.Observability.MaxRecords = c.Settings.Observability.MaxRecords
		s.Observability.BatchSize = c.Settings.Observability.BatchSize
		s.Observability.FlushIntervalMs = c.Settings.Observability.FlushIntervalMs
	}
	return s
}

// HashKey bcrypt-hashes a plaintext API key for storage when Hashed is requested.
func HashKey(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("config: hash api key: %w", err)
	}
	return string(digest), nil
}

// CompareKey reports whether presented matches stored, using bcrypt
// comparison when stored is a hashed digest and constant-effort string
// comparison otherwise.
func CompareKey(stored, presented string, hashed bool) bool {
	if hashed {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return stored == presented
}
