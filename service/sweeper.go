package service

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper checks for expired reviews
// when no interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically resolves pending human reviews whose deadline has
// passed and resumes their runs. Exactly one resume per review is
// guaranteed by the store's compare-and-set, so running sweepers in several
// processes is safe.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper. A non-positive interval falls back to
// DefaultSweepInterval; a nil logger falls back to slog.Default().
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled and returns ctx.Err().
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.svc.SweepExpired(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "review sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "review sweep resolved timeouts", "count", n)
			}
		}
	}
}
