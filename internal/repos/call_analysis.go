package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type CallAnalysisRepo interface {
  UpsertByCallID(ctx context.Context, tx *gorm.DB, analysis *types.CallAnalysis) error
  GetByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (*types.CallAnalysis, error)
}

type callAnalysisRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewCallAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) CallAnalysisRepo {
  return &callAnalysisRepo{
    db:  db,
    log: baseLog.With("repo", "CallAnalysisRepo"),
  }
}

func (r *callAnalysisRepo) UpsertByCallID(ctx context.Context, tx *gorm.DB, analysis *types.CallAnalysis) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if analysis == nil || analysis.CallID == uuid.Nil {
    return nil
  }
  if analysis.ID == uuid.Nil {
    analysis.ID = uuid.New()
  }
  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns: []clause.Column{{Name: "call_id"}},
      DoUpdates: clause.AssignmentColumns([]string{
        "company_id", "sentiment", "mood", "confidence", "payload", "model", "updated_at",
      }),
    }).
    Create(analysis).Error
}

func (r *callAnalysisRepo) GetByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (*types.CallAnalysis, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if callID == uuid.Nil {
    return nil, nil
  }
  var out types.CallAnalysis
  err := transaction.WithContext(ctx).
    Where("call_id = ?", callID).
    Limit(1).
    Find(&out).Error
  if err != nil {
    return nil, err
  }
  if out.ID == uuid.Nil {
    return nil, nil
  }
  return &out, nil
}
