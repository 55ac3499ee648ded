package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// Transcriber is a human worker who reviews or produces transcripts.
type Transcriber struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	DisplayName string                  `gorm:"column:display_name;not null"`
	Status      enums.TranscriberStatus `gorm:"column:status;type:transcriber_status;not null;default:'active'"`
	Rating      decimal.Decimal         `gorm:"column:rating;type:numeric(3,2);not null;default:0"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transcriber) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
