package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-dashboards/internal/metrics"
	"github.com/ryanbastic/go-dashboards/internal/storage"
	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// Lister pages through dashboards that have dynamic widgets.
type Lister interface {
	ListDynamic(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Refresher hydrates and persists one dashboard.
type Refresher interface {
	Refresh(ctx context.Context, id uuid.UUID) (*widget.Dashboard, error)
}

// Scheduler periodically refreshes every dashboard with dynamic widgets.
type Scheduler struct {
	lister    Lister
	refresher Refresher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. A non-positive interval disables it.
func NewScheduler(lister Lister, refresher Refresher, interval time.Duration, batchSize int, logger *slog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = storage.DefaultPageSize
	}
	return &Scheduler{
		lister:    lister,
		refresher: refresher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run refreshes on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("refresh interval not set, scheduler idle")
		return
	}

	s.logger.Info("refresh scheduler started", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			start := time.Now()
			refreshed, failed, err := s.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("refresh pass aborted", "refreshed", refreshed, "failed", failed, "error", err)
				continue
			}
			s.logger.Info("refresh pass complete",
				"refreshed", refreshed,
				"failed", failed,
				"duration", time.Since(start),
			)
		}
	}
}

// RunOnce makes a single pass over all dynamic dashboards. A failed
// dashboard is logged and skipped; only a listing error ends the pass early.
func (s *Scheduler) RunOnce(ctx context.Context) (refreshed, failed int, err error) {
	after := uuid.Nil
	for {
		ids, err := s.lister.ListDynamic(ctx, after, s.batchSize)
		if err != nil {
			return refreshed, failed, err
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return refreshed, failed, ctx.Err()
			}
			_, err := s.refresher.Refresh(ctx, id)
			switch {
			case err == nil:
				refreshed++
				metrics.ObserveScheduledRefresh(true)
			case errors.Is(err, storage.ErrDashboardNotFound):
				// Deleted since it was listed.
			default:
				failed++
				metrics.ObserveScheduledRefresh(false)
				s.logger.Error("scheduled refresh failed", "dashboard_id", id, "error", err)
			}
		}

		if len(ids) < s.batchSize {
			return refreshed, failed, nil
		}
		after = ids[len(ids)-1]
	}
}
