// Package config loads service configuration from a YAML file, overlays
// CASEFLOW_* environment variables, applies defaults, and validates the
// result. A missing file is not an error: defaults plus environment
// variables fully configure the service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is consulted when no explicit path is given.
const DefaultConfigFile = "caseflow.yaml"

// Root-level environment overrides.
const (
	EnvSweepInterval = "CASEFLOW_SWEEP_INTERVAL"
	EnvWebhookURL    = "CASEFLOW_WEBHOOK_URL"
)

// Config is the root configuration for the caseflow service.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Store       StoreConfig        `yaml:"store"`
	Workflow    WorkflowConfig     `yaml:"workflow"`
	Specialists []SpecialistConfig `yaml:"specialists"`
	Logging     LoggingConfig      `yaml:"logging"`

	// WebhookURL is where review notifications are POSTed. Empty means
	// reviews are announced in the service log only.
	WebhookURL string `yaml:"webhook_url"`

	// SweepInterval is how often the review timeout sweep runs.
	SweepInterval string `yaml:"sweep_interval"`
}

// SweepIntervalDuration returns SweepInterval as a time.Duration.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

// Load reads the config at path (or DefaultConfigFile when path is empty,
// if present) and finalizes all values.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		loaded, err := load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
// The specialist list replaces wholesale rather than merging per entry.
func (c *Config) Merge(overlay *Config) {
	if overlay.WebhookURL != "" {
		c.WebhookURL = overlay.WebhookURL
	}
	if overlay.SweepInterval != "" {
		c.SweepInterval = overlay.SweepInterval
	}
	if len(overlay.Specialists) > 0 {
		c.Specialists = overlay.Specialists
	}
	c.Server.Merge(&overlay.Server)
	c.Store.Merge(&overlay.Store)
	c.Workflow.Merge(&overlay.Workflow)
	c.Logging.Merge(&overlay.Logging)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Store.Finalize(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Workflow.Finalize(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Logging.Finalize(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for i := range c.Specialists {
		if err := c.Specialists[i].Finalize(); err != nil {
			return fmt.Errorf("specialist %d: %w", i, err)
		}
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.SweepInterval == "" {
		c.SweepInterval = "1m"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvSweepInterval); v != "" {
		c.SweepInterval = v
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		c.WebhookURL = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.SweepInterval); err != nil {
		return fmt.Errorf("invalid sweep_interval: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
