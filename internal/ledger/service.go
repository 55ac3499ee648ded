package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PackageMeta describes a package being purchased through Credit.
type PackageMeta struct {
	Mode          enums.JobMode
	Minutes       int
	RatePerMinute decimal.Decimal
	ValidityDays  int
}

// CreditInput captures an additive funds operation (package purchase or
// wallet top-up).
type CreditInput struct {
	AccountID   uuid.UUID
	Kind        enums.TransactionKind
	Amount      decimal.Decimal
	Description string
	SourceRef   string
	Package     *PackageMeta
}

// Service is the multi-source funds ledger. It is the only writer of account
// balances, package balances and the transaction log.
type Service interface {
	// WithTx returns a Service whose writes join the caller's transaction.
	WithTx(tx *gorm.DB) Service
	EnsureAccount(ctx context.Context, userRef string) (*models.Account, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, []models.CreditPackage, error)
	Estimate(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, minutes int) (*Plan, error)
	Deduct(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, minutes int, jobID uuid.UUID) (*Plan, error)
	Credit(ctx context.Context, input CreditInput) (*models.Transaction, error)
	Refund(ctx context.Context, accountID, jobID uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error)
	RateFor(mode enums.JobMode) decimal.Decimal
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Logger *logger.Logger
	Config config.LedgerConfig
	Now    func() time.Time
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	cfg  config.LedgerConfig
	now  func() time.Time
}

// NewService wires the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo: params.Repo,
		tx:   params.Tx,
		logg: params.Logger,
		cfg:  params.Config,
		now:  now,
	}, nil
}

// boundTx joins an existing transaction instead of opening one. Commit and
// rollback stay with the owner of the outer transaction.
type boundTx struct {
	tx *gorm.DB
}

func (b boundTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(b.tx)
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		repo: s.repo,
		tx:   boundTx{tx: tx},
		logg: s.logg,
		cfg:  s.cfg,
		now:  s.now,
	}
}

func (s *service) RateFor(mode enums.JobMode) decimal.Decimal {
	switch mode {
	case enums.JobModeHybrid:
		return s.cfg.HybridRate
	case enums.JobModeManual:
		return s.cfg.ManualRate
	default:
		return s.cfg.AutomatedRate
	}
}

func (s *service) EnsureAccount(ctx context.Context, userRef string) (*models.Account, error) {
	if userRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user reference required")
	}
	account, err := s.repo.FindAccountByUserRef(ctx, userRef)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}

	trial := s.cfg.TrialMinutes
	created := &models.Account{
		UserRef:            userRef,
		FreeTrialTotal:     trial,
		FreeTrialRemaining: trial,
		FreeTrialActive:    trial > 0,
		WalletBalance:      decimal.Zero,
	}
	if err := s.repo.CreateAccount(ctx, created); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindAccountByUserRef(ctx, userRef)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return created, nil
}

func (s *service) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, []models.CreditPackage, error) {
	account, err := s.findAccount(ctx, s.repo, accountID)
	if err != nil {
		return nil, nil, err
	}
	packages, err := s.repo.ListPackages(ctx, accountID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list packages")
	}
	return account, packages, nil
}

// Estimate is the read-only funding check that gates job creation.
func (s *service) Estimate(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, minutes int) (*Plan, error) {
	if err := validateDeductionInput(mode, minutes); err != nil {
		return nil, err
	}
	account, err := s.findAccount(ctx, s.repo, accountID)
	if err != nil {
		return nil, err
	}
	packages, err := s.repo.ListEligiblePackages(ctx, accountID, mode, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible packages")
	}
	snap := &balanceSnapshot{
		account:    account,
		packages:   packages,
		walletRate: s.RateFor(mode),
		now:        s.now(),
	}
	return buildPlan(snap, mode, minutes), nil
}

// Deduct atomically applies the plan the funding chain produces. If the
// wallet cannot cover its share the whole operation aborts with no mutation.
// Lost optimistic races re-read and retry up to the configured bound.
func (s *service) Deduct(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, minutes int, jobID uuid.UUID) (*Plan, error) {
	if err := validateDeductionInput(mode, minutes); err != nil {
		return nil, err
	}
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}

	var plan *Plan
	err := s.withVersionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			account, err := s.findAccount(ctx, repo, accountID)
			if err != nil {
				return err
			}
			packages, err := repo.ListEligiblePackages(ctx, accountID, mode, s.now())
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible packages")
			}

			snap := &balanceSnapshot{
				account:    account,
				packages:   packages,
				walletRate: s.RateFor(mode),
				now:        s.now(),
			}
			p := buildPlan(snap, mode, minutes)
			if !p.Sufficient {
				return insufficientFunds(p, account)
			}

			if p.TrialMinutes > 0 {
				account.FreeTrialUsed += p.TrialMinutes
				account.FreeTrialRemaining -= p.TrialMinutes
				if account.FreeTrialRemaining == 0 {
					account.FreeTrialActive = false
				}
			}
			account.WalletBalance = account.WalletBalance.Sub(p.WalletAmount)
			if err := repo.UpdateAccountGuarded(ctx, account); err != nil {
				return err
			}

			byID := make(map[uuid.UUID]*models.CreditPackage, len(packages))
			for i := range packages {
				byID[packages[i].ID] = &packages[i]
			}
			for _, draw := range p.PackageDraws {
				pkg, ok := byID[draw.PackageID]
				if !ok {
					return ErrVersionConflict
				}
				if err := repo.ApplyPackageDraw(ctx, pkg, draw.Minutes); err != nil {
					return err
				}
			}

			breakdown, err := json.Marshal(p)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode plan breakdown")
			}
			applied := minutes
			txn := &models.Transaction{
				AccountID:      accountID,
				Kind:           enums.TransactionKindConsumption,
				Amount:         p.TotalCost.Neg(),
				Description:    fmt.Sprintf("%s transcription, %d min", mode, minutes),
				JobID:          &jobID,
				MinutesApplied: &applied,
				Breakdown:      breakdown,
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record consumption")
			}

			plan = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	jobCtx := s.logg.WithJobID(ctx, jobID.String())
	jobCtx = s.logg.WithFields(jobCtx, map[string]any{
		"trial_minutes":   plan.TrialMinutes,
		"package_minutes": plan.PackageMinutes(),
		"wallet_amount":   plan.WalletAmount.String(),
	})
	s.logg.Info(jobCtx, "funds deducted")
	return plan, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.Transaction, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	switch input.Kind {
	case enums.TransactionKindPurchase:
		if input.Package == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "package metadata required for purchase")
		}
		if !input.Package.Mode.IsValid() || input.Package.Minutes <= 0 || input.Package.ValidityDays <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid package metadata")
		}
	case enums.TransactionKindTopup:
		if input.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "topup amount must be positive")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit kind must be purchase or topup")
	}

	var txn *models.Transaction
	err := s.withVersionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			account, err := s.findAccount(ctx, repo, input.AccountID)
			if err != nil {
				return err
			}

			record := &models.Transaction{
				AccountID:   input.AccountID,
				Kind:        input.Kind,
				Amount:      input.Amount,
				Description: input.Description,
			}
			if input.SourceRef != "" {
				ref := input.SourceRef
				record.SourceRef = &ref
			}

			if input.Kind == enums.TransactionKindPurchase {
				meta := input.Package
				now := s.now()
				pkg := &models.CreditPackage{
					AccountID:        input.AccountID,
					Mode:             meta.Mode,
					MinutesTotal:     meta.Minutes,
					MinutesRemaining: meta.Minutes,
					RatePerMinute:    meta.RatePerMinute,
					PurchasedAt:      now,
					ExpiresAt:        now.AddDate(0, 0, meta.ValidityDays),
					Active:           true,
				}
				if err := repo.CreatePackage(ctx, pkg); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create package")
				}
				record.PackageID = &pkg.ID
				applied := meta.Minutes
				record.MinutesApplied = &applied
			} else {
				account.WalletBalance = account.WalletBalance.Add(input.Amount)
				if err := repo.UpdateAccountGuarded(ctx, account); err != nil {
					return err
				}
			}

			if err := repo.CreateTransaction(ctx, record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit")
			}
			txn = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Refund is the compensating action for up-front deduction: a wallet credit
// matching what the consumption transaction charged for the job. At most one
// refund is accepted per job.
func (s *service) Refund(ctx context.Context, accountID, jobID uuid.UUID) (*models.Transaction, error) {
	if accountID == uuid.Nil || jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id and job id required")
	}

	var txn *models.Transaction
	err := s.withVersionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			existing, err := repo.FindTransactionsByJob(ctx, jobID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job transactions")
			}
			var consumption *models.Transaction
			for i, t := range existing {
				if t.Kind == enums.TransactionKindRefund {
					return pkgerrors.New(pkgerrors.CodeStateConflict, "job already refunded")
				}
				if t.Kind == enums.TransactionKindConsumption && consumption == nil {
					consumption = &existing[i]
				}
			}
			if consumption == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "no consumption recorded for job")
			}

			amount := consumption.Amount.Neg()
			minutes := 0
			if consumption.MinutesApplied != nil {
				minutes = *consumption.MinutesApplied
			}

			account, err := s.findAccount(ctx, repo, accountID)
			if err != nil {
				return err
			}
			account.WalletBalance = account.WalletBalance.Add(amount)
			if err := repo.UpdateAccountGuarded(ctx, account); err != nil {
				return err
			}

			applied := minutes
			record := &models.Transaction{
				AccountID:      accountID,
				Kind:           enums.TransactionKindRefund,
				Amount:         amount,
				Description:    fmt.Sprintf("refund for failed job %s", jobID),
				JobID:          &jobID,
				MinutesApplied: &applied,
			}
			if err := repo.CreateTransaction(ctx, record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
			}
			txn = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	txns, err := s.repo.ListTransactions(ctx, accountID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	var next string
	if len(txns) > limit {
		txns = txns[:limit]
		last := txns[len(txns)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return txns, next, nil
}

func (s *service) findAccount(ctx context.Context, repo Repository, accountID uuid.UUID) (*models.Account, error) {
	account, err := repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return account, nil
}

// withVersionRetry reruns fn while it loses optimistic version races, up to
// the configured bound, then surfaces a concurrency conflict.
func (s *service) withVersionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	maxRetries := s.cfg.DeductMaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	delay := s.cfg.DeductRetryDelay
	if delay <= 0 {
		delay = 25 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConcurrency, err, "account update retries exhausted")
		}
		return err
	}
	return nil
}

func validateDeductionInput(mode enums.JobMode, minutes int) error {
	if !mode.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown job mode")
	}
	if minutes <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "minutes must be positive")
	}
	return nil
}

func insufficientFunds(plan *Plan, account *models.Account) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance cannot cover request").
		WithDetails(map[string]string{
			"required":  plan.WalletAmount.StringFixed(2),
			"available": account.WalletBalance.StringFixed(2),
		})
}
