package payment

import (
	"context"

	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
)

// Repository persists the durable exactly-once record per processor event.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEvent(ctx context.Context, event *models.PaymentEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment event repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEvent(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
