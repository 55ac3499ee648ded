package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// TranscriptionJob tracks one unit of metered work through its lifecycle.
// Mutated only by the job orchestrator.
type TranscriptionJob struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	AccountID       uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index"`
	Mode            enums.JobMode   `gorm:"column:mode;type:job_mode;not null"`
	Status          enums.JobStatus `gorm:"column:status;type:job_status;not null;default:'pending'"`
	StatusReason    *string         `gorm:"column:status_reason"`
	Queued          bool            `gorm:"column:queued;not null;default:false"`
	AudioRef        string          `gorm:"column:audio_ref;not null"`
	DurationMinutes int             `gorm:"column:duration_minutes;not null"`
	ExternalRef     *string         `gorm:"column:external_ref;index"`
	AssignmentRef   *uuid.UUID      `gorm:"column:assignment_ref;type:uuid"`
	RetryCount      int             `gorm:"column:retry_count;not null;default:0"`
	MaxRetries      int             `gorm:"column:max_retries;not null;default:3"`
	PollAttempts    int             `gorm:"column:poll_attempts;not null;default:0"`
	// Settled marks that the compensating refund ran; a settled job admits no
	// further work.
	Settled         bool            `gorm:"column:settled;not null;default:false"`
	Transcript      *string         `gorm:"column:transcript"`
	FinalTranscript *string         `gorm:"column:final_transcript"`
	HybridSnapshot  json.RawMessage `gorm:"column:hybrid_snapshot;type:jsonb"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *TranscriptionJob) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// HybridSnapshotPayload is the automated-phase result preserved when a hybrid
// job enters human review.
type HybridSnapshotPayload struct {
	Transcript  string    `json:"transcript"`
	ExternalRef string    `json:"external_ref"`
	CapturedAt  time.Time `json:"captured_at"`
}
