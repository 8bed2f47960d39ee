package scheduler

import (
	"context"
	"log/slog"
	"time"

	"xminer/internal/domain"
)

// Syncer defines the interface for scheduled ingest runs.
type Syncer interface {
	Sync(ctx context.Context) (*domain.FetchStats, error)
}

type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// Start runs one sync immediately and then one per interval until the
// context is cancelled. No per-run timeout is imposed: a run blocked in a
// rate-limit sleep must be allowed to finish, and cancellation between
// authors loses no committed work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if _, err := s.syncer.Sync(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sync failed", "error", err)
	}
}
