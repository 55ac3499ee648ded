package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account holds the per-user funds state: trial minutes, wallet balance and
// (via CreditPackage rows) prepaid packages. Balances are mutated exclusively
// by the ledger engine.
type Account struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserRef            string          `gorm:"column:user_ref;not null;uniqueIndex"`
	FreeTrialTotal     int             `gorm:"column:free_trial_total;not null"`
	FreeTrialUsed      int             `gorm:"column:free_trial_used;not null;default:0"`
	FreeTrialRemaining int             `gorm:"column:free_trial_remaining;not null"`
	FreeTrialActive    bool            `gorm:"column:free_trial_active;not null;default:true"`
	WalletBalance      decimal.Decimal `gorm:"column:wallet_balance;type:numeric(12,2);not null;default:0"`
	LockVersion        int64           `gorm:"column:lock_version;not null;default:0"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
