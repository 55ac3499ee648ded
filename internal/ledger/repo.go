package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

// ErrVersionConflict signals that a guarded write lost an optimistic race and
// the caller should re-read and retry.
var ErrVersionConflict = errors.New("account version conflict")

// Repository manages persistence for accounts, packages and the transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAccountByUserRef(ctx context.Context, userRef string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	// UpdateAccountGuarded writes balance fields only if lock_version still
	// matches, bumping it on success. Returns ErrVersionConflict otherwise.
	UpdateAccountGuarded(ctx context.Context, account *models.Account) error

	ListPackages(ctx context.Context, accountID uuid.UUID) ([]models.CreditPackage, error)
	ListEligiblePackages(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, now time.Time) ([]models.CreditPackage, error)
	CreatePackage(ctx context.Context, pkg *models.CreditPackage) error
	// ApplyPackageDraw decrements minutes from one package under the same
	// optimistic guard as accounts.
	ApplyPackageDraw(ctx context.Context, pkg *models.CreditPackage, minutes int) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, error)
	FindTransactionsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByUserRef(ctx context.Context, userRef string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "user_ref = ?", userRef).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) UpdateAccountGuarded(ctx context.Context, account *models.Account) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND lock_version = ?", account.ID, account.LockVersion).
		Updates(map[string]any{
			"free_trial_used":      account.FreeTrialUsed,
			"free_trial_remaining": account.FreeTrialRemaining,
			"free_trial_active":    account.FreeTrialActive,
			"wallet_balance":       account.WalletBalance,
			"lock_version":         account.LockVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	account.LockVersion++
	return nil
}

func (r *repository) ListPackages(ctx context.Context, accountID uuid.UUID) ([]models.CreditPackage, error) {
	var packages []models.CreditPackage
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("purchased_at ASC").
		Find(&packages).Error; err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repository) ListEligiblePackages(ctx context.Context, accountID uuid.UUID, mode enums.JobMode, now time.Time) ([]models.CreditPackage, error) {
	var packages []models.CreditPackage
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND mode = ? AND active = ? AND minutes_remaining > 0 AND expires_at > ?",
			accountID, mode, true, now).
		Order("rate_per_minute ASC, expires_at ASC").
		Find(&packages).Error; err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repository) CreatePackage(ctx context.Context, pkg *models.CreditPackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *repository) ApplyPackageDraw(ctx context.Context, pkg *models.CreditPackage, minutes int) error {
	newRemaining := pkg.MinutesRemaining - minutes
	if newRemaining < 0 {
		return ErrVersionConflict
	}
	res := r.db.WithContext(ctx).
		Model(&models.CreditPackage{}).
		Where("id = ? AND lock_version = ?", pkg.ID, pkg.LockVersion).
		Updates(map[string]any{
			"minutes_used":      pkg.MinutesUsed + minutes,
			"minutes_remaining": newRemaining,
			"active":            newRemaining > 0,
			"lock_version":      pkg.LockVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	pkg.MinutesUsed += minutes
	pkg.MinutesRemaining = newRemaining
	pkg.Active = newRemaining > 0
	pkg.LockVersion++
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if cursor, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, err
	} else if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var txns []models.Transaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) FindTransactionsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
