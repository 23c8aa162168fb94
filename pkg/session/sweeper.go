package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   log,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
// A non-positive interval disables sweeping and Run blocks until cancellation.
// Sweep failures are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// SweepOnce deletes expired sessions once, for callers with their own scheduler.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.svc.DeleteExpired(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete expired sessions",
			logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "deleted expired sessions",
			logger.Count(n),
			logger.Duration(time.Since(start)),
		)
	}
}
