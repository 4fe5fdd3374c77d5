package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/caseflow-go/config"
	"github.com/dshills/caseflow-go/triage"
)

// quietConfig returns a memory-backed config that keeps test output clean.
func quietConfig() *config.Config {
	return &config.Config{
		Store:   config.StoreConfig{Backend: config.BackendMemory},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend with the static pool", func(t *testing.T) {
		deps, err := Build(ctx, quietConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = deps.Close() })

		require.NotNil(t, deps.Workflow)
		require.NotNil(t, deps.Registry)
		require.NotNil(t, deps.Logger)

		state, err := deps.Workflow.Run(ctx, "run-build", triage.CaseInput{CaseText: criminalIntake})
		require.NoError(t, err)
		assert.Equal(t, triage.StatusCompleted, state.Status)
	})

	t.Run("explicit static specialists", func(t *testing.T) {
		cfg := quietConfig()
		for _, id := range []string{
			"criminal_law", "housing_law", "family_law", "employment_law",
			"immigration_law", "consumer_law", "general_practice",
		} {
			cfg.Specialists = append(cfg.Specialists, config.SpecialistConfig{
				ID:       id,
				Provider: config.ProviderStatic,
			})
		}

		deps, err := Build(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = deps.Close() })

		state, err := deps.Workflow.Run(ctx, "run-build-static", triage.CaseInput{CaseText: criminalIntake})
		require.NoError(t, err)
		assert.Equal(t, triage.StatusCompleted, state.Status)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := quietConfig()
		cfg.Store.Backend = "redis"

		_, err := Build(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown store backend")
	})

	t.Run("unknown playbook", func(t *testing.T) {
		cfg := quietConfig()
		cfg.Specialists = []config.SpecialistConfig{
			{ID: "maritime_law", Provider: config.ProviderStatic},
		}

		_, err := Build(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no built-in playbook")
	})

	t.Run("hosted specialist without api key", func(t *testing.T) {
		cfg := quietConfig()
		cfg.Specialists = []config.SpecialistConfig{
			{ID: "housing_law", Provider: config.ProviderAnthropic, APIKeyEnv: "CASEFLOW_TEST_ABSENT_KEY"},
		}

		_, err := Build(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CASEFLOW_TEST_ABSENT_KEY is empty")
	})
}
