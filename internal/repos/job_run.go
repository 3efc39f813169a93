package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type JobRunRepo interface {
  Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error)
  // ClaimNextRunnable picks the oldest runnable job and marks it running.
  // Runnable means queued, or failed with attempts left after the retry
  // delay, or running with a heartbeat older than staleRunning (a worker
  // died mid-job).
  ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
  Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
  CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
  // ExistsActiveByDedupKey reports whether a queued or running job with
  // the given type and dedup key already exists.
  ExistsActiveByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) (bool, error)
  DeleteQueuedByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) error
}

type jobRunRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
  return &jobRunRepo{
    db:  db,
    log: baseLog.With("repo", "JobRunRepo"),
  }
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(jobs) == 0 {
    return []*types.JobRun{}, nil
  }
  if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
    return nil, err
  }
  return jobs, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var job types.JobRun
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    Limit(1).
    Find(&job).Error
  if err != nil {
    return nil, err
  }
  if job.ID == uuid.Nil {
    return nil, nil
  }
  return &job, nil
}

func (r *jobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  retryCutoff := now.Add(-retryDelay)
  staleCutoff := now.Add(-staleRunning)
  var claimed *types.JobRun
  err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
    var job types.JobRun
    q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
      Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.JobStatusQueued, types.JobStatusFailed, maxAttempts, retryCutoff, types.JobStatusRunning, staleCutoff).
      Order("created_at ASC")
    qErr := q.First(&job).Error
    if errors.Is(qErr, gorm.ErrRecordNotFound) {
      return nil
    }
    if qErr != nil {
      return qErr
    }
    uErr := txx.Model(&types.JobRun{}).
      Where("id = ?", job.ID).
      Updates(map[string]interface{}{
        "status":       types.JobStatusRunning,
        "attempts":     gorm.Expr("attempts + 1"),
        "locked_at":    now,
        "heartbeat_at": now,
        "updated_at":   now,
      }).Error
    if uErr != nil {
      return uErr
    }
    claimed = &job
    return nil
  })
  if err != nil {
    return nil, err
  }
  return claimed, nil
}

func (r *jobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.JobRun{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *jobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  now := time.Now()
  return transaction.WithContext(ctx).
    Model(&types.JobRun{}).
    Where("id = ? AND status = ?", id, types.JobStatusRunning).
    Updates(map[string]interface{}{
      "heartbeat_at": now,
      "updated_at":   now,
    }).Error
}

func (r *jobRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  type row struct {
    Status string
    N      int64
  }
  var rows []row
  if err := transaction.WithContext(ctx).
    Model(&types.JobRun{}).
    Select("status, count(*) as n").
    Group("status").
    Scan(&rows).Error; err != nil {
    return nil, err
  }
  out := map[string]int64{}
  for _, rr := range rows {
    out[rr.Status] = rr.N
  }
  return out, nil
}

func (r *jobRunRepo) ExistsActiveByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if jobType == "" || dedupKey == "" {
    return false, nil
  }
  var n int64
  err := transaction.WithContext(ctx).
    Model(&types.JobRun{}).
    Where("job_type = ? AND dedup_key = ? AND status IN ?", jobType, dedupKey, []string{types.JobStatusQueued, types.JobStatusRunning}).
    Count(&n).Error
  if err != nil {
    return false, err
  }
  return n > 0, nil
}

func (r *jobRunRepo) DeleteQueuedByDedupKey(ctx context.Context, tx *gorm.DB, jobType, dedupKey string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if jobType == "" || dedupKey == "" {
    return nil
  }
  return transaction.WithContext(ctx).
    Where("job_type = ? AND dedup_key = ? AND status = ?", jobType, dedupKey, types.JobStatusQueued).
    Delete(&types.JobRun{}).Error
}
