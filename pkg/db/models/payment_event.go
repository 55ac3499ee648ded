package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// PaymentEvent is the durable exactly-once record for completed-purchase
// events from the payment processor. The unique event_id is the replay guard
// behind the redis fast path.
type PaymentEvent struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID     string                 `gorm:"column:event_id;not null;uniqueIndex:uq_payment_events_event_id"`
	AccountID   uuid.UUID              `gorm:"column:account_id;type:uuid;not null;index"`
	Kind        enums.PaymentEventKind `gorm:"column:kind;type:payment_event_kind;not null"`
	AmountCents int64                  `gorm:"column:amount_cents;not null"`
	Payload     json.RawMessage        `gorm:"column:payload;type:jsonb"`
	ProcessedAt time.Time              `gorm:"column:processed_at;not null"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (e *PaymentEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
