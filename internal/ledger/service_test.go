package ledger

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

// fakeRepo is an in-memory Repository for a single account. Reads hand out
// copies so a retried operation sees stored state, not its own scratch work.
type fakeRepo struct {
	account   *models.Account
	packages  []models.CreditPackage
	txns      []models.Transaction
	conflicts int
}

func (r *fakeRepo) WithTx(_ *gorm.DB) Repository { return r }

func (r *fakeRepo) FindAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if r.account == nil || r.account.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *r.account
	return &copied, nil
}

func (r *fakeRepo) FindAccountByUserRef(_ context.Context, userRef string) (*models.Account, error) {
	if r.account == nil || r.account.UserRef != userRef {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *r.account
	return &copied, nil
}

func (r *fakeRepo) CreateAccount(_ context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	copied := *account
	r.account = &copied
	return nil
}

func (r *fakeRepo) UpdateAccountGuarded(_ context.Context, account *models.Account) error {
	if r.conflicts > 0 {
		r.conflicts--
		return ErrVersionConflict
	}
	if r.account == nil || r.account.LockVersion != account.LockVersion {
		return ErrVersionConflict
	}
	copied := *account
	copied.LockVersion++
	r.account = &copied
	account.LockVersion++
	return nil
}

func (r *fakeRepo) ListPackages(_ context.Context, _ uuid.UUID) ([]models.CreditPackage, error) {
	return append([]models.CreditPackage(nil), r.packages...), nil
}

func (r *fakeRepo) ListEligiblePackages(_ context.Context, _ uuid.UUID, mode enums.JobMode, now time.Time) ([]models.CreditPackage, error) {
	var out []models.CreditPackage
	for _, pkg := range r.packages {
		if pkg.EligibleFor(mode, now) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreatePackage(_ context.Context, pkg *models.CreditPackage) error {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	r.packages = append(r.packages, *pkg)
	return nil
}

func (r *fakeRepo) ApplyPackageDraw(_ context.Context, pkg *models.CreditPackage, minutes int) error {
	for i := range r.packages {
		if r.packages[i].ID != pkg.ID {
			continue
		}
		if r.packages[i].LockVersion != pkg.LockVersion {
			return ErrVersionConflict
		}
		r.packages[i].MinutesUsed += minutes
		r.packages[i].MinutesRemaining -= minutes
		r.packages[i].Active = r.packages[i].MinutesRemaining > 0
		r.packages[i].LockVersion++
		return nil
	}
	return ErrVersionConflict
}

func (r *fakeRepo) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	r.txns = append(r.txns, *txn)
	return nil
}

func (r *fakeRepo) ListTransactions(_ context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	var out []models.Transaction
	for i := len(r.txns) - 1; i >= 0; i-- {
		if r.txns[i].AccountID == accountID {
			out = append(out, r.txns[i])
		}
	}
	limit := pagination.LimitWithBuffer(params.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) FindTransactionsByJob(_ context.Context, jobID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, txn := range r.txns {
		if txn.JobID != nil && *txn.JobID == jobID {
			out = append(out, txn)
		}
	}
	return out, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		AutomatedRate:    decimal.RequireFromString("0.40"),
		HybridRate:       decimal.RequireFromString("0.80"),
		ManualRate:       decimal.RequireFromString("1.20"),
		TrialMinutes:     180,
		DeductMaxRetries: 3,
		DeductRetryDelay: time.Millisecond,
	}
}

func newTestService(t *testing.T, repo *fakeRepo) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     fakeTx{},
		Logger: logger.New(logger.Options{ServiceName: "ledger-test", Output: io.Discard}),
		Config: testLedgerConfig(),
	})
	require.NoError(t, err)
	return svc
}

func trialAccount(wallet string) *models.Account {
	return &models.Account{
		ID:                 uuid.New(),
		UserRef:            "user-1",
		FreeTrialTotal:     180,
		FreeTrialRemaining: 180,
		FreeTrialActive:    true,
		WalletBalance:      decimal.RequireFromString(wallet),
	}
}

func TestDeductTrialThenWallet(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("1000")}
	svc := newTestService(t, repo)
	jobID := uuid.New()

	plan, err := svc.Deduct(context.Background(), repo.account.ID, enums.JobModeAutomated, 200, jobID)
	require.NoError(t, err)
	require.Equal(t, 180, plan.TrialMinutes)
	require.Equal(t, 20, plan.WalletMinutes)

	require.Equal(t, 0, repo.account.FreeTrialRemaining)
	require.Equal(t, 180, repo.account.FreeTrialUsed)
	require.False(t, repo.account.FreeTrialActive)
	require.True(t, repo.account.WalletBalance.Equal(decimal.RequireFromString("992.00")),
		"wallet %s", repo.account.WalletBalance)

	require.Len(t, repo.txns, 1)
	txn := repo.txns[0]
	require.Equal(t, enums.TransactionKindConsumption, txn.Kind)
	require.True(t, txn.Amount.Equal(decimal.RequireFromString("-8.00")))
	require.Equal(t, jobID, *txn.JobID)
	require.NotEmpty(t, txn.Breakdown)
}

func TestDeductInsufficientFundsLeavesStateUntouched(t *testing.T) {
	account := &models.Account{
		ID:            uuid.New(),
		UserRef:       "user-1",
		WalletBalance: decimal.RequireFromString("5.00"),
	}
	repo := &fakeRepo{account: account}
	before := *account
	svc := newTestService(t, repo)

	_, err := svc.Deduct(context.Background(), account.ID, enums.JobModeAutomated, 100, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds), "got %v", err)

	require.Equal(t, before, *repo.account)
	require.Empty(t, repo.txns)
}

func TestDeductRetriesVersionConflicts(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0"), conflicts: 2}
	svc := newTestService(t, repo)

	plan, err := svc.Deduct(context.Background(), repo.account.ID, enums.JobModeAutomated, 60, uuid.New())
	require.NoError(t, err)
	require.Equal(t, 60, plan.TrialMinutes)
	require.Equal(t, 120, repo.account.FreeTrialRemaining)
	require.Equal(t, int64(1), repo.account.LockVersion)
}

func TestDeductGivesUpAfterBoundedRetries(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0"), conflicts: 100}
	svc := newTestService(t, repo)

	_, err := svc.Deduct(context.Background(), repo.account.ID, enums.JobModeAutomated, 60, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrency), "got %v", err)
	require.Equal(t, 180, repo.account.FreeTrialRemaining)
	require.Empty(t, repo.txns)
}

func TestDeductDrawsFromPackages(t *testing.T) {
	account := &models.Account{
		ID:            uuid.New(),
		UserRef:       "user-1",
		WalletBalance: decimal.RequireFromString("100"),
	}
	expires := time.Now().AddDate(0, 1, 0)
	cheap := models.CreditPackage{
		ID:               uuid.New(),
		AccountID:        account.ID,
		Mode:             enums.JobModeAutomated,
		MinutesTotal:     30,
		MinutesRemaining: 30,
		RatePerMinute:    decimal.RequireFromString("0.60"),
		ExpiresAt:        expires,
		Active:           true,
	}
	pricey := models.CreditPackage{
		ID:               uuid.New(),
		AccountID:        account.ID,
		Mode:             enums.JobModeAutomated,
		MinutesTotal:     100,
		MinutesRemaining: 100,
		RatePerMinute:    decimal.RequireFromString("0.75"),
		ExpiresAt:        expires,
		Active:           true,
	}
	repo := &fakeRepo{account: account, packages: []models.CreditPackage{pricey, cheap}}
	svc := newTestService(t, repo)

	plan, err := svc.Deduct(context.Background(), account.ID, enums.JobModeAutomated, 50, uuid.New())
	require.NoError(t, err)
	require.Len(t, plan.PackageDraws, 2)
	require.Equal(t, cheap.ID, plan.PackageDraws[0].PackageID)

	for _, pkg := range repo.packages {
		switch pkg.ID {
		case cheap.ID:
			require.Equal(t, 0, pkg.MinutesRemaining)
			require.False(t, pkg.Active)
		case pricey.ID:
			require.Equal(t, 80, pkg.MinutesRemaining)
			require.True(t, pkg.Active)
		}
	}
}

func TestCreditTopup(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("10.00")}
	svc := newTestService(t, repo)

	txn, err := svc.Credit(context.Background(), CreditInput{
		AccountID:   repo.account.ID,
		Kind:        enums.TransactionKindTopup,
		Amount:      decimal.RequireFromString("25.00"),
		Description: "wallet top-up",
		SourceRef:   "evt_123",
	})
	require.NoError(t, err)
	require.Equal(t, enums.TransactionKindTopup, txn.Kind)
	require.Equal(t, "evt_123", *txn.SourceRef)
	require.True(t, repo.account.WalletBalance.Equal(decimal.RequireFromString("35.00")))
}

func TestCreditPurchaseCreatesPackage(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)

	txn, err := svc.Credit(context.Background(), CreditInput{
		AccountID:   repo.account.ID,
		Kind:        enums.TransactionKindPurchase,
		Amount:      decimal.RequireFromString("30.00"),
		Description: "automated 60 pack",
		Package: &PackageMeta{
			Mode:          enums.JobModeAutomated,
			Minutes:       60,
			RatePerMinute: decimal.RequireFromString("0.50"),
			ValidityDays:  90,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, txn.PackageID)

	require.Len(t, repo.packages, 1)
	pkg := repo.packages[0]
	require.Equal(t, 60, pkg.MinutesRemaining)
	require.True(t, pkg.Active)
	require.True(t, pkg.ExpiresAt.After(pkg.PurchasedAt))
	// purchase must not touch the wallet
	require.True(t, repo.account.WalletBalance.IsZero())
}

func TestCreditRejectsInvalidInput(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)

	_, err := svc.Credit(context.Background(), CreditInput{
		AccountID: repo.account.ID,
		Kind:      enums.TransactionKindTopup,
		Amount:    decimal.Zero,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Credit(context.Background(), CreditInput{
		AccountID: repo.account.ID,
		Kind:      enums.TransactionKindPurchase,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Credit(context.Background(), CreditInput{
		AccountID: repo.account.ID,
		Kind:      enums.TransactionKindConsumption,
		Amount:    decimal.NewFromInt(5),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRefundOncePerJob(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)
	jobID := uuid.New()

	_, err := svc.Deduct(context.Background(), repo.account.ID, enums.JobModeAutomated, 60, jobID)
	require.NoError(t, err)

	txn, err := svc.Refund(context.Background(), repo.account.ID, jobID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionKindRefund, txn.Kind)
	require.Equal(t, 60, *txn.MinutesApplied)

	_, err = svc.Refund(context.Background(), repo.account.ID, jobID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRefundRequiresConsumption(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)

	_, err := svc.Refund(context.Background(), repo.account.ID, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRefundCreditsWallet(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)
	jobID := uuid.New()

	// exhaust trial so part of the charge hits the wallet
	repo.account.FreeTrialRemaining = 0
	repo.account.FreeTrialUsed = 180
	repo.account.FreeTrialActive = false
	repo.account.WalletBalance = decimal.RequireFromString("50.00")

	_, err := svc.Deduct(context.Background(), repo.account.ID, enums.JobModeAutomated, 100, jobID)
	require.NoError(t, err)
	require.True(t, repo.account.WalletBalance.Equal(decimal.RequireFromString("10.00")))

	_, err = svc.Refund(context.Background(), repo.account.ID, jobID)
	require.NoError(t, err)
	require.True(t, repo.account.WalletBalance.Equal(decimal.RequireFromString("50.00")))
}

func TestEnsureAccountCreatesWithTrialDefaults(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo)

	account, err := svc.EnsureAccount(context.Background(), "user-42")
	require.NoError(t, err)
	require.Equal(t, 180, account.FreeTrialTotal)
	require.Equal(t, 180, account.FreeTrialRemaining)
	require.True(t, account.FreeTrialActive)
	require.True(t, account.WalletBalance.IsZero())

	again, err := svc.EnsureAccount(context.Background(), "user-42")
	require.NoError(t, err)
	require.Equal(t, account.ID, again.ID)
}

func TestEstimateDoesNotMutate(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("100")}
	before := *repo.account
	svc := newTestService(t, repo)

	plan, err := svc.Estimate(context.Background(), repo.account.ID, enums.JobModeManual, 30)
	require.NoError(t, err)
	require.Equal(t, 30, plan.TrialMinutes)
	require.Equal(t, before, *repo.account)
	require.Empty(t, repo.txns)
}

func TestListTransactionsPaginates(t *testing.T) {
	repo := &fakeRepo{account: trialAccount("0")}
	svc := newTestService(t, repo)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		repo.txns = append(repo.txns, models.Transaction{
			ID:        uuid.New(),
			AccountID: repo.account.ID,
			Kind:      enums.TransactionKindTopup,
			Amount:    decimal.NewFromInt(int64(i + 1)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	txns, next, err := svc.ListTransactions(context.Background(), repo.account.ID, pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.NotEmpty(t, next)
	// newest first
	require.True(t, txns[0].CreatedAt.After(txns[1].CreatedAt))
}
