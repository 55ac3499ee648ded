package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// Transaction is the append-only audit trail of every funds movement.
// Rows are never updated or deleted.
type Transaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index"`
	Kind           enums.TransactionKind `gorm:"column:kind;type:transaction_kind;not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Description    string                `gorm:"column:description;not null"`
	JobID          *uuid.UUID            `gorm:"column:job_id;type:uuid;index"`
	PackageID      *uuid.UUID            `gorm:"column:package_id;type:uuid"`
	MinutesApplied *int                  `gorm:"column:minutes_applied"`
	SourceRef      *string               `gorm:"column:source_ref"`
	Breakdown      json.RawMessage       `gorm:"column:breakdown;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
