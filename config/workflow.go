package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Workflow environment overrides.
const (
	EnvMaxRevisions      = "CASEFLOW_MAX_REVISIONS"
	EnvSpecialistTimeout = "CASEFLOW_SPECIALIST_TIMEOUT"
	EnvReviewTimeout     = "CASEFLOW_REVIEW_TIMEOUT"
	EnvReviewMode        = "CASEFLOW_REVIEW_MODE"
	EnvConflictPolicy    = "CASEFLOW_CONFLICT_POLICY"
	EnvCriticFailOpen    = "CASEFLOW_CRITIC_FAIL_OPEN"
)

// WorkflowConfig holds the triage pipeline's tunables.
type WorkflowConfig struct {
	// MaxRevisions bounds the critic/revision loop. 0 applies the default
	// of 2; a genuinely revision-free run uses the per-case override on
	// the intake API instead.
	MaxRevisions int `yaml:"max_revisions"`

	// SpecialistTimeout bounds each specialist consult.
	SpecialistTimeout string `yaml:"specialist_timeout"`

	// ReviewTimeout is how long a human review may stay pending.
	ReviewTimeout string `yaml:"review_timeout"`

	// ReviewMode is auto, always, or never.
	ReviewMode string `yaml:"review_mode"`

	// ConflictPolicy is surface, escalate, or arbitrate.
	ConflictPolicy string `yaml:"conflict_policy"`

	// CriticFailOpen ships unverified output when the critic errors
	// instead of failing the run.
	CriticFailOpen bool `yaml:"critic_fail_open"`
}

// SpecialistTimeoutDuration returns SpecialistTimeout as a time.Duration.
func (c *WorkflowConfig) SpecialistTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.SpecialistTimeout)
	return d
}

// ReviewTimeoutDuration returns ReviewTimeout as a time.Duration.
func (c *WorkflowConfig) ReviewTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ReviewTimeout)
	return d
}

// Merge overwrites non-zero fields from overlay. CriticFailOpen merges only
// when the overlay enables it; explicit disabling belongs in the base file
// or environment.
func (c *WorkflowConfig) Merge(overlay *WorkflowConfig) {
	if overlay.MaxRevisions != 0 {
		c.MaxRevisions = overlay.MaxRevisions
	}
	if overlay.SpecialistTimeout != "" {
		c.SpecialistTimeout = overlay.SpecialistTimeout
	}
	if overlay.ReviewTimeout != "" {
		c.ReviewTimeout = overlay.ReviewTimeout
	}
	if overlay.ReviewMode != "" {
		c.ReviewMode = overlay.ReviewMode
	}
	if overlay.ConflictPolicy != "" {
		c.ConflictPolicy = overlay.ConflictPolicy
	}
	if overlay.CriticFailOpen {
		c.CriticFailOpen = true
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *WorkflowConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *WorkflowConfig) loadDefaults() {
	if c.MaxRevisions == 0 {
		c.MaxRevisions = 2
	}
	if c.SpecialistTimeout == "" {
		c.SpecialistTimeout = "30s"
	}
	if c.ReviewTimeout == "" {
		c.ReviewTimeout = "24h"
	}
	if c.ReviewMode == "" {
		c.ReviewMode = "auto"
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = "surface"
	}
}

func (c *WorkflowConfig) loadEnv() {
	if v := os.Getenv(EnvMaxRevisions); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRevisions = n
		}
	}
	if v := os.Getenv(EnvSpecialistTimeout); v != "" {
		c.SpecialistTimeout = v
	}
	if v := os.Getenv(EnvReviewTimeout); v != "" {
		c.ReviewTimeout = v
	}
	if v := os.Getenv(EnvReviewMode); v != "" {
		c.ReviewMode = v
	}
	if v := os.Getenv(EnvConflictPolicy); v != "" {
		c.ConflictPolicy = v
	}
	if v := os.Getenv(EnvCriticFailOpen); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CriticFailOpen = b
		}
	}
}

func (c *WorkflowConfig) validate() error {
	if c.MaxRevisions < 0 {
		return fmt.Errorf("invalid max_revisions: %d", c.MaxRevisions)
	}
	if _, err := time.ParseDuration(c.SpecialistTimeout); err != nil {
		return fmt.Errorf("invalid specialist_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.ReviewTimeout); err != nil {
		return fmt.Errorf("invalid review_timeout: %w", err)
	}
	switch c.ReviewMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("invalid review_mode: %q", c.ReviewMode)
	}
	switch c.ConflictPolicy {
	case "surface", "escalate", "arbitrate":
	default:
		return fmt.Errorf("invalid conflict_policy: %q", c.ConflictPolicy)
	}
	return nil
}
