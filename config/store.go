package config

import (
	"fmt"
	"os"
)

// Store environment overrides.
const (
	EnvStoreBackend = "CASEFLOW_STORE_BACKEND"
	EnvStoreDSN     = "CASEFLOW_STORE_DSN"
)

// Supported store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
)

// StoreConfig selects the checkpoint/review persistence backend.
type StoreConfig struct {
	// Backend is memory, sqlite, mysql, or postgres.
	Backend string `yaml:"backend"`

	// DSN is the backend-specific connection string: a file path for
	// sqlite, a driver DSN for mysql, a URL or keyword string for
	// postgres. Ignored for memory.
	DSN string `yaml:"dsn"`
}

// Merge overwrites non-zero fields from overlay.
func (c *StoreConfig) Merge(overlay *StoreConfig) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.DSN != "" {
		c.DSN = overlay.DSN
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *StoreConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *StoreConfig) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.DSN == "" && c.Backend == BackendSQLite {
		c.DSN = "caseflow.db"
	}
}

func (c *StoreConfig) loadEnv() {
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		c.DSN = v
	}
}

func (c *StoreConfig) validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSQLite, BackendMySQL, BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("store backend %s requires a dsn", c.Backend)
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend: %q", c.Backend)
	}
}
