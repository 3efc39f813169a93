package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
)

// CallTranscriptEmbedding is one embedded transcript chunk. Chunk
// sequences for a call are contiguous starting at 0, in chunker order.
type CallTranscriptEmbedding struct {
  ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  CallID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_call_chunk,unique" json:"call_id"`
  ChunkSequence int            `gorm:"column:chunk_sequence;not null;index:idx_call_chunk,unique" json:"chunk_sequence"`
  Vector        datatypes.JSON `gorm:"type:jsonb;column:vector;not null" json:"vector"`
  Model         string         `gorm:"column:model;not null" json:"model"`
  TokenCount    int            `gorm:"column:token_count;not null;default:0" json:"token_count"`
  CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CallTranscriptEmbedding) TableName() string {
  return "call_transcript_embedding"
}
