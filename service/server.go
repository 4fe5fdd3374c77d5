package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/caseflow-go/config"
)

// Server runs the HTTP API and the review timeout sweeper under one
// lifecycle. Both stop when the context given to Run is cancelled, then
// in-flight runs are drained before Run returns.
type Server struct {
	svc     *Service
	httpSrv *http.Server
	sweeper *Sweeper
	logger  *slog.Logger

	shutdownTimeout time.Duration
}

// NewServer assembles the API handler, the Prometheus endpoint, and the
// sweeper. The registry must be the one the workflow's metrics were
// registered with; a nil registry disables the /metrics endpoint.
func NewServer(cfg *config.Config, svc *Service, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	NewHandler(svc, logger).Register(mux)
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		svc: svc,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
			WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		},
		sweeper:         NewSweeper(svc, cfg.SweepIntervalDuration(), logger),
		logger:          logger,
		shutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts the
// HTTP server down gracefully and drains in-flight runs. Interrupted runs
// stop at their latest checkpoint and resume on the next start.
func (s *Server) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := s.sweeper.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down")
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	})

	err := group.Wait()

	// The listener is down, so no new work arrives; wait for in-flight
	// run goroutines to park at a checkpoint.
	s.svc.Close()
	s.logger.Info("shutdown complete")
	return err
}
