package jobs

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

// Repository manages persistence for transcription jobs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, job *models.TranscriptionJob) error
	Find(ctx context.Context, id uuid.UUID) (*models.TranscriptionJob, error)
	FindByAssignmentRef(ctx context.Context, assignmentID uuid.UUID) (*models.TranscriptionJob, error)
	Update(ctx context.Context, job *models.TranscriptionJob) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.TranscriptionJob, error)
	// ListPollable returns processing jobs that have been handed to the engine,
	// oldest first, for the status sync worker.
	ListPollable(ctx context.Context, limit int) ([]models.TranscriptionJob, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a jobs repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.TranscriptionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.TranscriptionJob, error) {
	var job models.TranscriptionJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindByAssignmentRef(ctx context.Context, assignmentID uuid.UUID) (*models.TranscriptionJob, error) {
	var job models.TranscriptionJob
	if err := r.db.WithContext(ctx).First(&job, "assignment_ref = ?", assignmentID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) Update(ctx context.Context, job *models.TranscriptionJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.TranscriptionJob, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if cursor, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, err
	} else if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var jobs []models.TranscriptionJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repository) ListPollable(ctx context.Context, limit int) ([]models.TranscriptionJob, error) {
	var jobs []models.TranscriptionJob
	if err := r.db.WithContext(ctx).
		Where("status = ? AND external_ref IS NOT NULL", enums.JobStatusProcessing).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
