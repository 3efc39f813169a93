package types

import (
  "time"
  "github.com/google/uuid"
)

const (
  LogLevelInfo    = "LOG_INFO"
  LogLevelError   = "LOG_ERROR"
  LogLevelSuccess = "LOG_SUCCESS"
)

// ProcessingLog is the append-only audit trail of a call's trip through
// the pipeline. Rows are never updated or deleted; it is the only record
// of history once a call's status has been overwritten.
type ProcessingLog struct {
  ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  CallID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"call_id"`
  CompanyID *uuid.UUID `gorm:"type:uuid;column:company_id;index" json:"company_id,omitempty"`
  Level     string     `gorm:"column:level;not null;index" json:"level"`
  Stage     string     `gorm:"column:stage;not null" json:"stage"`
  Message   string     `gorm:"column:message" json:"message"`
  CreatedAt time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (ProcessingLog) TableName() string {
  return "processing_log"
}
