package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type ProcessingLogRepo interface {
  // Append writes one audit row. ProcessingLog rows are immutable; there
  // is deliberately no update or delete on this interface.
  Append(ctx context.Context, tx *gorm.DB, entry *types.ProcessingLog) error
  ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID, limit int) ([]*types.ProcessingLog, error)
}

type processingLogRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewProcessingLogRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingLogRepo {
  return &processingLogRepo{
    db:  db,
    log: baseLog.With("repo", "ProcessingLogRepo"),
  }
}

func (r *processingLogRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.ProcessingLog) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if entry == nil || entry.CallID == uuid.Nil {
    return nil
  }
  if entry.ID == uuid.Nil {
    entry.ID = uuid.New()
  }
  return transaction.WithContext(ctx).Create(entry).Error
}

func (r *processingLogRepo) ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID, limit int) ([]*types.ProcessingLog, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.ProcessingLog
  if callID == uuid.Nil {
    return out, nil
  }
  q := transaction.WithContext(ctx).
    Where("call_id = ?", callID).
    Order("created_at ASC")
  if limit > 0 {
    q = q.Limit(limit)
  }
  if err := q.Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}
