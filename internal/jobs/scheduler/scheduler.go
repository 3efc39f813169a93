package scheduler

import (
	"context"
	"time"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/services"
	"github.com/yungbote/callbridge-backend/internal/types"
	"github.com/yungbote/callbridge-backend/internal/utils"
)

// Scheduler enqueues the recurring call sync dispatch job. It fires
// immediately on start and then on a fixed interval; the dedup key
// keeps overlapping schedules from stacking when a dispatch is still
// running as the next tick arrives.
type Scheduler struct {
	log        *logger.Logger
	jobService services.JobService
	jobRunRepo repos.JobRunRepo
	interval   time.Duration
}

func New(baseLog *logger.Logger, jobService services.JobService, jobRunRepo repos.JobRunRepo) *Scheduler {
	log := baseLog.With("component", "SyncScheduler")

	intervalMinutes := utils.GetEnvAsInt("SYNC_INTERVAL_MINUTES", 15, log)
	if intervalMinutes < 1 {
		intervalMinutes = 15
	}

	return &Scheduler{
		log:        log,
		jobService: jobService,
		jobRunRepo: jobRunRepo,
		interval:   time.Duration(intervalMinutes) * time.Minute,
	}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting sync scheduler", "interval", s.interval.String())

	// A dispatch left queued by a previous process would block the
	// immediate first fire through the dedup key; drop it. Running
	// dispatches are left alone.
	if err := s.jobRunRepo.DeleteQueuedByDedupKey(ctx, nil, types.JobTypeCallSyncDispatch, services.SyncScheduleDedupKey); err != nil {
		s.log.Warn("Failed to clear stale scheduled dispatch", "error", err)
	}

	go func() {
		s.fire(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Sync scheduler stopped")
				return
			case <-ticker.C:
				s.fire(ctx)
			}
		}
	}()
}

func (s *Scheduler) fire(ctx context.Context) {
	job, err := s.jobService.EnqueueUnique(ctx, nil, types.JobTypeCallSyncDispatch, services.SyncScheduleDedupKey, map[string]any{
		"scheduled": true,
	})
	if err != nil {
		s.log.Error("Failed to enqueue scheduled sync dispatch", "error", err)
		return
	}
	if job == nil {
		s.log.Debug("Previous sync dispatch still active, skipping tick")
		return
	}
	s.log.Info("Scheduled sync dispatch enqueued", "job_id", job.ID)
}
