package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// Assignment binds a manual or hybrid-review job to a human transcriber.
// A job has at most one open assignment at a time.
type Assignment struct {
	ID                  uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	JobID               uuid.UUID              `gorm:"column:job_id;type:uuid;not null;index"`
	TranscriberID       uuid.UUID              `gorm:"column:transcriber_id;type:uuid;not null;index"`
	Status              enums.AssignmentStatus `gorm:"column:status;type:assignment_status;not null;default:'assigned'"`
	AssignedAt          time.Time              `gorm:"column:assigned_at;not null"`
	EstimatedCompletion time.Time              `gorm:"column:estimated_completion;not null"`
	CompletedAt         *time.Time             `gorm:"column:completed_at"`
	CreatedAt           time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Assignment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
