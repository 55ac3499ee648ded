package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// CreditPackage is a prepaid, mode-specific, time-boxed bundle of minutes.
type CreditPackage struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	AccountID        uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index"`
	Mode             enums.JobMode   `gorm:"column:mode;type:job_mode;not null"`
	MinutesTotal     int             `gorm:"column:minutes_total;not null"`
	MinutesUsed      int             `gorm:"column:minutes_used;not null;default:0"`
	MinutesRemaining int             `gorm:"column:minutes_remaining;not null"`
	RatePerMinute    decimal.Decimal `gorm:"column:rate_per_minute;type:numeric(8,4);not null"`
	PurchasedAt      time.Time       `gorm:"column:purchased_at;not null"`
	ExpiresAt        time.Time       `gorm:"column:expires_at;not null"`
	Active           bool            `gorm:"column:active;not null;default:true"`
	LockVersion      int64           `gorm:"column:lock_version;not null;default:0"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *CreditPackage) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// EligibleFor reports whether the package may fund work of the given mode now.
func (p *CreditPackage) EligibleFor(mode enums.JobMode, now time.Time) bool {
	return p.Active && p.MinutesRemaining > 0 && now.Before(p.ExpiresAt) && p.Mode == mode
}
