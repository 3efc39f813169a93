package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/yungbote/callbridge-backend/internal/logger"
  "github.com/yungbote/callbridge-backend/internal/types"
)

type CompanyRepo interface {
  FindByPhoneNumber(ctx context.Context, tx *gorm.DB, number string) (*types.Company, error)
}

type companyRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewCompanyRepo(db *gorm.DB, baseLog *logger.Logger) CompanyRepo {
  return &companyRepo{
    db:  db,
    log: baseLog.With("repo", "CompanyRepo"),
  }
}

func (r *companyRepo) FindByPhoneNumber(ctx context.Context, tx *gorm.DB, number string) (*types.Company, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if number == "" {
    return nil, nil
  }
  var company types.Company
  // phone_numbers is a jsonb array of E.164 strings.
  err := transaction.WithContext(ctx).
    Where("phone_numbers @> ?", `["`+number+`"]`).
    Limit(1).
    Find(&company).Error
  if err != nil {
    return nil, err
  }
  if company.ID == uuid.Nil {
    return nil, nil
  }
  return &company, nil
}
