package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/pkg/db"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// PackageMeta carries the purchased bundle's shape on package events.
type PackageMeta struct {
	Mode               enums.JobMode `json:"mode"`
	Minutes            int           `json:"minutes"`
	RatePerMinuteCents int64         `json:"rate_per_minute_cents"`
	ValidityDays       int           `json:"validity_days"`
}

// Event is the completed-purchase notification from the payment processor.
type Event struct {
	EventID     string                 `json:"event_id"`
	AccountID   uuid.UUID              `json:"account_id"`
	Kind        enums.PaymentEventKind `json:"kind"`
	AmountCents int64                  `json:"amount_cents"`
	Package     *PackageMeta           `json:"package,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service applies payment processor events to the ledger exactly once. The
// unique payment_events row and the resulting credit commit together.
type Service interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// ServiceParams groups dependencies for the payment webhook service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Ledger ledger.Service
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger ledger.Service
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the payment webhook service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		ledger: params.Ledger,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (s *service) HandleEvent(ctx context.Context, event *Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode event payload")
	}

	var duplicate bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record := &models.PaymentEvent{
			EventID:     event.EventID,
			AccountID:   event.AccountID,
			Kind:        event.Kind,
			AmountCents: event.AmountCents,
			Payload:     payload,
			ProcessedAt: s.now(),
		}
		if err := s.repo.WithTx(tx).CreateEvent(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "uq_payment_events_event_id") {
				duplicate = true
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
		}

		_, err := s.ledger.WithTx(tx).Credit(ctx, creditInputFor(event))
		return err
	})
	if err != nil {
		return err
	}
	if duplicate {
		s.logg.Debug(s.logg.WithField(ctx, "event_id", event.EventID), "payment event replayed, ignored")
		return nil
	}

	logCtx := s.logg.WithAccountID(ctx, event.AccountID.String())
	logCtx = s.logg.WithField(logCtx, "event_id", event.EventID)
	s.logg.Info(logCtx, "payment event applied")
	return nil
}

func creditInputFor(event *Event) ledger.CreditInput {
	amount := decimal.NewFromInt(event.AmountCents).Div(decimal.NewFromInt(100))
	input := ledger.CreditInput{
		AccountID: event.AccountID,
		Amount:    amount,
		SourceRef: event.EventID,
	}
	if event.Kind == enums.PaymentEventKindTopup {
		input.Kind = enums.TransactionKindTopup
		input.Description = "wallet top-up"
		return input
	}

	meta := event.Package
	input.Kind = enums.TransactionKindPurchase
	input.Description = fmt.Sprintf("%s package, %d min", meta.Mode, meta.Minutes)
	input.Package = &ledger.PackageMeta{
		Mode:          meta.Mode,
		Minutes:       meta.Minutes,
		RatePerMinute: decimal.NewFromInt(meta.RatePerMinuteCents).Div(decimal.NewFromInt(100)),
		ValidityDays:  meta.ValidityDays,
	}
	return input
}

// validateEvent rejects malformed deliveries so the processor stops
// redelivering them.
func validateEvent(event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	if event.EventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if event.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if !event.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown event kind")
	}
	if event.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if event.Kind == enums.PaymentEventKindPackage {
		meta := event.Package
		if meta == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "package metadata required")
		}
		if !meta.Mode.IsValid() || meta.Minutes <= 0 || meta.RatePerMinuteCents < 0 || meta.ValidityDays <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid package metadata")
		}
	}
	return nil
}

// VerifySignature checks the processor's HMAC-SHA256 hex signature over the
// raw request body.
func VerifySignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
