package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type CallTranscriptEmbeddingRepo interface {
  // UpsertByCallAndSequence writes one chunk's embedding keyed by
  // (call_id, chunk_sequence) so a retried job can safely re-embed.
  UpsertByCallAndSequence(ctx context.Context, tx *gorm.DB, emb *types.CallTranscriptEmbedding) error
  ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) ([]*types.CallTranscriptEmbedding, error)
  CountByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (int64, error)
}

type callTranscriptEmbeddingRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewCallTranscriptEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) CallTranscriptEmbeddingRepo {
  return &callTranscriptEmbeddingRepo{
    db:  db,
    log: baseLog.With("repo", "CallTranscriptEmbeddingRepo"),
  }
}

func (r *callTranscriptEmbeddingRepo) UpsertByCallAndSequence(ctx context.Context, tx *gorm.DB, emb *types.CallTranscriptEmbedding) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if emb == nil || emb.CallID == uuid.Nil {
    return nil
  }
  if emb.ID == uuid.Nil {
    emb.ID = uuid.New()
  }
  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns: []clause.Column{{Name: "call_id"}, {Name: "chunk_sequence"}},
      DoUpdates: clause.AssignmentColumns([]string{
        "vector", "model", "token_count", "updated_at",
      }),
    }).
    Create(emb).Error
}

func (r *callTranscriptEmbeddingRepo) ListByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) ([]*types.CallTranscriptEmbedding, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.CallTranscriptEmbedding
  if callID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("call_id = ?", callID).
    Order("chunk_sequence ASC").
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *callTranscriptEmbeddingRepo) CountByCallID(ctx context.Context, tx *gorm.DB, callID uuid.UUID) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if callID == uuid.Nil {
    return 0, nil
  }
  var n int64
  if err := transaction.WithContext(ctx).
    Model(&types.CallTranscriptEmbedding{}).
    Where("call_id = ?", callID).
    Count(&n).Error; err != nil {
    return 0, err
  }
  return n, nil
}
