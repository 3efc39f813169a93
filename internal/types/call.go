package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
)

// Call processing states. A call only moves forward through these except
// for the two terminal skip branches, which are reachable directly from
// the step that precedes them.
const (
  CallStatusDispatched          = "DISPATCHED"
  CallStatusFetching            = "FETCHING"
  CallStatusAudioStored         = "AUDIO_STORED"
  CallStatusTranscribing        = "TRANSCRIBING"
  CallStatusTranscriptionFailed = "TRANSCRIPTION_FAILED"
  CallStatusChunked             = "CHUNKED"
  CallStatusEmbedding           = "EMBEDDING"
  CallStatusAnalyzing           = "ANALYZING"
  CallStatusCompleted           = "COMPLETED"
  CallStatusInternalSkipped     = "INTERNAL_CALL_SKIPPED"
)

const (
  CallDirectionInbound  = "inbound"
  CallDirectionOutbound = "outbound"
)

var callStatusRank = map[string]int{
  CallStatusDispatched:          0,
  CallStatusFetching:            1,
  CallStatusAudioStored:         2,
  CallStatusInternalSkipped:     3,
  CallStatusTranscribing:        3,
  CallStatusTranscriptionFailed: 4,
  CallStatusChunked:             4,
  CallStatusEmbedding:           5,
  CallStatusAnalyzing:           6,
  CallStatusCompleted:           7,
}

// CallStatusRank orders statuses for the forward-only transition guard.
// Unknown statuses rank lowest so they can never clobber a known state.
func CallStatusRank(status string) int {
  if r, ok := callStatusRank[status]; ok {
    return r
  }
  return -1
}

// CallStatusTerminal reports whether a status ends processing for good.
func CallStatusTerminal(status string) bool {
  switch status {
  case CallStatusCompleted, CallStatusInternalSkipped, CallStatusTranscriptionFailed:
    return true
  }
  return false
}

type Call struct {
  gorm.Model
  ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  CallSID          string         `gorm:"column:call_sid;not null;uniqueIndex" json:"call_sid"`
  Status           string         `gorm:"column:status;not null;index" json:"status"`
  Direction        string         `gorm:"column:direction" json:"direction"`
  ExternalNumber   string         `gorm:"column:external_number;index" json:"external_number"`
  CallerIDInternal string         `gorm:"column:caller_id_internal;index" json:"caller_id_internal"`
  StartTime        time.Time      `gorm:"column:start_time;not null;index" json:"start_time"`
  EndTime          *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
  DurationSeconds  *int           `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
  RecordingKey     *string        `gorm:"column:recording_key" json:"recording_key,omitempty"`
  TranscriptKey    *string        `gorm:"column:transcript_key" json:"transcript_key,omitempty"`
  CallGroupID      *uuid.UUID     `gorm:"type:uuid;column:call_group_id;index" json:"call_group_id,omitempty"`
  CallLegOrder     *int           `gorm:"column:call_leg_order" json:"call_leg_order,omitempty"`
  CompanyID        *uuid.UUID     `gorm:"type:uuid;column:company_id;index" json:"company_id,omitempty"`
  Company          *Company       `gorm:"foreignKey:CompanyID;references:ID" json:"company,omitempty"`
  AgentID          *uuid.UUID     `gorm:"type:uuid;column:agent_id;index" json:"agent_id,omitempty"`
  Agent            *Agent         `gorm:"foreignKey:AgentID;references:ID" json:"agent,omitempty"`
  Analysis         *CallAnalysis  `gorm:"foreignKey:CallID;references:ID" json:"analysis,omitempty"`
  CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
  UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Call) TableName() string {
  return "call"
}

// WindowEnd is the effective end of the call's time window; in-flight
// calls fall back to now so grouping can still reason about them.
func (c *Call) WindowEnd(now time.Time) time.Time {
  if c.EndTime != nil {
    return *c.EndTime
  }
  return now
}
