package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

type Company struct {
  gorm.Model
  ID           uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  Name         string          `gorm:"column:name;not null" json:"name"`
  PhoneNumbers datatypes.JSON  `gorm:"type:jsonb;column:phone_numbers" json:"phone_numbers"`
  CreatedAt    time.Time       `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt    time.Time       `gorm:"not null;default:now()" json:"updated_at"`
}

func (Company) TableName() string {
  return "company"
}
