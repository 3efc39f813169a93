package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
)

// CallAnalysis holds the analysis provider's structured result for one
// completed call. Payload is stored opaque; sentiment/mood/confidence are
// extracted tolerantly for dashboard filtering and may be empty.
type CallAnalysis struct {
  ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  CallID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"call_id"`
  CompanyID  *uuid.UUID     `gorm:"type:uuid;column:company_id;index" json:"company_id,omitempty"`
  Sentiment  string         `gorm:"column:sentiment;index" json:"sentiment"`
  Mood       string         `gorm:"column:mood" json:"mood"`
  Confidence *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
  Payload    datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
  Model      string         `gorm:"column:model" json:"model"`
  CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CallAnalysis) TableName() string {
  return "call_analysis"
}
