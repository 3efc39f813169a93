package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/types"
)

// SyncScheduleDedupKey marks the repeatable sync dispatch job so only
// one is ever queued or running at a time.
const SyncScheduleDedupKey = "call_sync_schedule"

// RepeatableInfo describes the recurring sync dispatch schedule as the
// admin API reports it.
type RepeatableInfo struct {
	JobType         string `json:"job_type"`
	DedupKey        string `json:"dedup_key"`
	IntervalMinutes int    `json:"interval_minutes"`
	Active          bool   `json:"active"`
}

// JobService is the write side of the job queue: everything that puts
// work on it goes through here.
type JobService interface {
	Enqueue(ctx context.Context, tx *gorm.DB, jobType string, payload map[string]any) (*types.JobRun, error)
	// EnqueueUnique enqueues unless a job with the same type and dedup
	// key is already queued or running; it returns nil in that case.
	EnqueueUnique(ctx context.Context, tx *gorm.DB, jobType, dedupKey string, payload map[string]any) (*types.JobRun, error)
	// TriggerSyncNow enqueues an immediate sync dispatch outside the
	// regular schedule.
	TriggerSyncNow(ctx context.Context) (*types.JobRun, error)
	QueueCounts(ctx context.Context) (map[string]int64, error)
	Repeatable(ctx context.Context) (*RepeatableInfo, error)
}

type jobService struct {
	log          *logger.Logger
	jobRunRepo   repos.JobRunRepo
	syncInterval time.Duration
}

func NewJobService(baseLog *logger.Logger, jobRunRepo repos.JobRunRepo, syncInterval time.Duration) JobService {
	return &jobService{
		log:          baseLog.With("service", "JobService"),
		jobRunRepo:   jobRunRepo,
		syncInterval: syncInterval,
	}
}

func (s *jobService) Enqueue(ctx context.Context, tx *gorm.DB, jobType string, payload map[string]any) (*types.JobRun, error) {
	return s.enqueue(ctx, tx, jobType, "", payload)
}

func (s *jobService) EnqueueUnique(ctx context.Context, tx *gorm.DB, jobType, dedupKey string, payload map[string]any) (*types.JobRun, error) {
	if dedupKey == "" {
		return nil, fmt.Errorf("dedup key required")
	}
	exists, err := s.jobRunRepo.ExistsActiveByDedupKey(ctx, tx, jobType, dedupKey)
	if err != nil {
		return nil, err
	}
	if exists {
		s.log.Debug("Job already active, not enqueueing", "job_type", jobType, "dedup_key", dedupKey)
		return nil, nil
	}
	return s.enqueue(ctx, tx, jobType, dedupKey, payload)
}

func (s *jobService) enqueue(ctx context.Context, tx *gorm.DB, jobType, dedupKey string, payload map[string]any) (*types.JobRun, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	job := &types.JobRun{
		JobType:  jobType,
		DedupKey: dedupKey,
		Status:   types.JobStatusQueued,
		Stage:    "queued",
		Payload:  datatypes.JSON(raw),
	}
	created, err := s.jobRunRepo.Create(ctx, tx, []*types.JobRun{job})
	if err != nil {
		return nil, err
	}

	s.log.Info("Job enqueued", "job_type", jobType, "job_id", created[0].ID, "dedup_key", dedupKey)
	return created[0], nil
}

func (s *jobService) TriggerSyncNow(ctx context.Context) (*types.JobRun, error) {
	return s.Enqueue(ctx, nil, types.JobTypeCallSyncDispatch, map[string]any{
		"manual": true,
	})
}

func (s *jobService) QueueCounts(ctx context.Context) (map[string]int64, error) {
	return s.jobRunRepo.CountByStatus(ctx, nil)
}

func (s *jobService) Repeatable(ctx context.Context) (*RepeatableInfo, error) {
	active, err := s.jobRunRepo.ExistsActiveByDedupKey(ctx, nil, types.JobTypeCallSyncDispatch, SyncScheduleDedupKey)
	if err != nil {
		return nil, err
	}
	return &RepeatableInfo{
		JobType:         types.JobTypeCallSyncDispatch,
		DedupKey:        SyncScheduleDedupKey,
		IntervalMinutes: int(s.syncInterval / time.Minute),
		Active:          active,
	}, nil
}
