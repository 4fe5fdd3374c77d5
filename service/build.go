package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/caseflow-go/config"
	"github.com/dshills/caseflow-go/flow"
	"github.com/dshills/caseflow-go/flow/emit"
	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/notify"
	"github.com/dshills/caseflow-go/specialist"
	"github.com/dshills/caseflow-go/specialist/anthropic"
	"github.com/dshills/caseflow-go/specialist/google"
	"github.com/dshills/caseflow-go/specialist/openai"
	"github.com/dshills/caseflow-go/triage"
)

// Dependencies is everything a running server needs, assembled from
// configuration. Close releases the store connections.
type Dependencies struct {
	Workflow *triage.Workflow
	Registry *prometheus.Registry
	Logger   *slog.Logger

	closers []io.Closer
}

// Close releases the backends in reverse construction order.
func (d *Dependencies) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build assembles the workflow, its store backend, notifier, specialist
// pool, and metrics registry from configuration. API keys are read from the
// environment variables the config names; they never appear in config
// files.
func Build(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger := cfg.Logging.NewLogger(nil)

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}

	checkpoints, reviews, err := buildStores(cfg.Store, deps)
	if err != nil {
		return nil, err
	}

	analyzers, err := buildAnalyzers(ctx, cfg.Specialists)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	var notifier notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, notify.WithLogger(logger))
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	wf, err := triage.New(triage.Config{
		Store:             checkpoints,
		Reviews:           reviews,
		Emitter:           emit.NewLogEmitter(logger),
		Notifier:          notifier,
		Logger:            logger,
		Metrics:           flow.NewMetrics(deps.Registry),
		Analyzers:         analyzers,
		MaxRevisions:      cfg.Workflow.MaxRevisions,
		SpecialistTimeout: cfg.Workflow.SpecialistTimeoutDuration(),
		ReviewTimeout:     cfg.Workflow.ReviewTimeoutDuration(),
		ReviewMode:        triage.ReviewMode(cfg.Workflow.ReviewMode),
		ConflictPolicy:    triage.ConflictPolicy(cfg.Workflow.ConflictPolicy),
		CriticFailOpen:    cfg.Workflow.CriticFailOpen,
	})
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("assemble workflow: %w", err)
	}

	deps.Workflow = wf
	return deps, nil
}

// buildStores opens the configured backend. Every backend serves both
// checkpoints and reviews from the same instance.
func buildStores(cfg config.StoreConfig, deps *Dependencies) (store.Store[triage.CaseState], store.ReviewStore[triage.CaseState], error) {
	switch cfg.Backend {
	case config.BackendMemory:
		ms := store.NewMemStore[triage.CaseState]()
		return ms, ms, nil
	case config.BackendSQLite:
		s, err := store.NewSQLiteStore[triage.CaseState](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		deps.closers = append(deps.closers, s)
		return s, s, nil
	case config.BackendMySQL:
		s, err := store.NewMySQLStore[triage.CaseState](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql store: %w", err)
		}
		deps.closers = append(deps.closers, s)
		return s, s, nil
	case config.BackendPostgres:
		s, err := store.NewPostgresStore[triage.CaseState](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		deps.closers = append(deps.closers, s)
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// buildAnalyzers constructs one analyzer per configured specialist. An
// empty list returns nil, which keeps the built-in static pool.
func buildAnalyzers(ctx context.Context, specs []config.SpecialistConfig) (map[string]specialist.Analyzer, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	playbooks := specialist.DefaultPlaybooks()
	analyzers := make(map[string]specialist.Analyzer, len(specs))
	for _, sc := range specs {
		switch sc.Provider {
		case config.ProviderStatic:
			pb, ok := playbooks[sc.ID]
			if !ok {
				return nil, fmt.Errorf("specialist %s: no built-in playbook", sc.ID)
			}
			analyzers[sc.ID] = specialist.NewStatic(sc.ID, pb)
		case config.ProviderAnthropic:
			key, err := apiKey(sc)
			if err != nil {
				return nil, err
			}
			analyzers[sc.ID] = anthropic.New(sc.ID, key, sc.Model)
		case config.ProviderOpenAI:
			key, err := apiKey(sc)
			if err != nil {
				return nil, err
			}
			a, err := openai.New(sc.ID, key, sc.Model)
			if err != nil {
				return nil, fmt.Errorf("specialist %s: %w", sc.ID, err)
			}
			analyzers[sc.ID] = a
		case config.ProviderGoogle:
			key, err := apiKey(sc)
			if err != nil {
				return nil, err
			}
			a, err := google.New(ctx, sc.ID, key, sc.Model)
			if err != nil {
				return nil, fmt.Errorf("specialist %s: %w", sc.ID, err)
			}
			analyzers[sc.ID] = a
		default:
			return nil, fmt.Errorf("specialist %s: unknown provider %q", sc.ID, sc.Provider)
		}
	}
	return analyzers, nil
}

func apiKey(sc config.SpecialistConfig) (string, error) {
	key := os.Getenv(sc.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("specialist %s: environment variable %s is empty", sc.ID, sc.APIKeyEnv)
	}
	return key, nil
}
