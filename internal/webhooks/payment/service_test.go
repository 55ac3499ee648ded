package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

type fakeRepo struct {
	events map[string]*models.PaymentEvent
	err    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: map[string]*models.PaymentEvent{}}
}

func (r *fakeRepo) WithTx(_ *gorm.DB) Repository { return r }

func (r *fakeRepo) CreateEvent(_ context.Context, event *models.PaymentEvent) error {
	if r.err != nil {
		return r.err
	}
	if _, exists := r.events[event.EventID]; exists {
		return errors.New(`duplicate key value violates unique constraint "uq_payment_events_event_id"`)
	}
	r.events[event.EventID] = event
	return nil
}

type fakeLedger struct {
	credits []ledger.CreditInput
	err     error
}

func (l *fakeLedger) WithTx(_ *gorm.DB) ledger.Service { return l }

func (l *fakeLedger) EnsureAccount(_ context.Context, _ string) (*models.Account, error) {
	return nil, nil
}

func (l *fakeLedger) GetAccount(_ context.Context, _ uuid.UUID) (*models.Account, []models.CreditPackage, error) {
	return nil, nil, nil
}

func (l *fakeLedger) Estimate(_ context.Context, _ uuid.UUID, _ enums.JobMode, _ int) (*ledger.Plan, error) {
	return nil, nil
}

func (l *fakeLedger) Deduct(_ context.Context, _ uuid.UUID, _ enums.JobMode, _ int, _ uuid.UUID) (*ledger.Plan, error) {
	return nil, nil
}

func (l *fakeLedger) Credit(_ context.Context, input ledger.CreditInput) (*models.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.credits = append(l.credits, input)
	return &models.Transaction{Kind: input.Kind}, nil
}

func (l *fakeLedger) Refund(_ context.Context, _, _ uuid.UUID) (*models.Transaction, error) {
	return nil, nil
}

func (l *fakeLedger) ListTransactions(_ context.Context, _ uuid.UUID, _ pagination.Params) ([]models.Transaction, string, error) {
	return nil, "", nil
}

func (l *fakeLedger) RateFor(_ enums.JobMode) decimal.Decimal { return decimal.Zero }

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T, repo Repository, led ledger.Service) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     fakeTx{},
		Ledger: led,
		Logger: logger.New(logger.Options{ServiceName: "payment-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func topupEvent() *Event {
	return &Event{
		EventID:     "evt_" + uuid.NewString()[:8],
		AccountID:   uuid.New(),
		Kind:        enums.PaymentEventKindTopup,
		AmountCents: 2500,
	}
}

func TestHandleEventAppliesTopup(t *testing.T) {
	led := &fakeLedger{}
	svc := newTestService(t, newFakeRepo(), led)
	event := topupEvent()

	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.Len(t, led.credits, 1)
	credit := led.credits[0]
	require.Equal(t, enums.TransactionKindTopup, credit.Kind)
	require.True(t, credit.Amount.Equal(decimal.RequireFromString("25.00")), "amount %s", credit.Amount)
	require.Equal(t, event.EventID, credit.SourceRef)
}

func TestHandleEventAppliesPackagePurchase(t *testing.T) {
	led := &fakeLedger{}
	svc := newTestService(t, newFakeRepo(), led)

	event := &Event{
		EventID:     "evt_pkg",
		AccountID:   uuid.New(),
		Kind:        enums.PaymentEventKindPackage,
		AmountCents: 3000,
		Package: &PackageMeta{
			Mode:               enums.JobModeAutomated,
			Minutes:            60,
			RatePerMinuteCents: 50,
			ValidityDays:       90,
		},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.Len(t, led.credits, 1)
	credit := led.credits[0]
	require.Equal(t, enums.TransactionKindPurchase, credit.Kind)
	require.NotNil(t, credit.Package)
	require.Equal(t, 60, credit.Package.Minutes)
	require.True(t, credit.Package.RatePerMinute.Equal(decimal.RequireFromString("0.50")))
}

func TestHandleEventReplayAppliedOnce(t *testing.T) {
	led := &fakeLedger{}
	svc := newTestService(t, newFakeRepo(), led)
	event := topupEvent()

	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.Len(t, led.credits, 1)
}

func TestHandleEventRejectsMalformed(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeLedger{})

	cases := []*Event{
		nil,
		{AccountID: uuid.New(), Kind: enums.PaymentEventKindTopup, AmountCents: 100},
		{EventID: "evt", Kind: enums.PaymentEventKindTopup, AmountCents: 100},
		{EventID: "evt", AccountID: uuid.New(), Kind: "gift", AmountCents: 100},
		{EventID: "evt", AccountID: uuid.New(), Kind: enums.PaymentEventKindTopup, AmountCents: 0},
		{EventID: "evt", AccountID: uuid.New(), Kind: enums.PaymentEventKindPackage, AmountCents: 100},
	}
	for i, event := range cases {
		err := svc.HandleEvent(context.Background(), event)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "case %d got %v", i, err)
	}
}

func TestHandleEventTransientFailurePropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("connection refused")
	svc := newTestService(t, repo, &fakeLedger{})

	err := svc.HandleEvent(context.Background(), topupEvent())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	require.True(t, pkgerrors.Retryable(err))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event_id":"evt_1"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	require.True(t, VerifySignature(payload, secret, signature))
	require.False(t, VerifySignature(payload, secret, "deadbeef"))
	require.False(t, VerifySignature(payload, "other", signature))
	require.False(t, VerifySignature(payload, secret, ""))
}

type fakeStore struct {
	keys map[string]string
}

func (s *fakeStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.keys[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return value, nil
}

func (s *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = value.(string)
	return true, nil
}

func (s *fakeStore) IdempotencyKey(scope, id string) string {
	return "ts:idempotency:" + scope + ":" + id
}

func (s *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	guard, err := NewIdempotencyGuard(&fakeStore{keys: map[string]string{}}, time.Hour, "payment")
	require.NoError(t, err)

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, guard.Delete(context.Background(), "evt_1"))
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	require.NoError(t, err)
	require.False(t, seen)
}
