package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
)

type Agent struct {
  gorm.Model
  ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  Name      string     `gorm:"column:name;not null" json:"name"`
  Extension string     `gorm:"column:extension;not null;uniqueIndex" json:"extension"`
  CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Agent) TableName() string {
  return "agent"
}
