package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type AgentRepo interface {
  FindByExtension(ctx context.Context, tx *gorm.DB, extension string) (*types.Agent, error)
}

type agentRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewAgentRepo(db *gorm.DB, baseLog *logger.Logger) AgentRepo {
  return &agentRepo{
    db:  db,
    log: baseLog.With("repo", "AgentRepo"),
  }
}

func (r *agentRepo) FindByExtension(ctx context.Context, tx *gorm.DB, extension string) (*types.Agent, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if extension == "" {
    return nil, nil
  }
  var agent types.Agent
  err := transaction.WithContext(ctx).
    Where("extension = ?", extension).
    Limit(1).
    Find(&agent).Error
  if err != nil {
    return nil, err
  }
  if agent.ID == uuid.Nil {
    return nil, nil
  }
  return &agent, nil
}
