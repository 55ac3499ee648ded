package assignments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// TranscriberLoad is the open-assignment minute total for one transcriber.
type TranscriberLoad struct {
	TranscriberID uuid.UUID
	Minutes       int
}

// Repository manages transcribers and their assignments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListActiveTranscribers(ctx context.Context) ([]models.Transcriber, error)
	// OpenWorkloads returns, per transcriber, the summed duration of the jobs
	// behind their assigned and in_progress assignments.
	OpenWorkloads(ctx context.Context) ([]TranscriberLoad, error)

	CreateAssignment(ctx context.Context, assignment *models.Assignment) error
	FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	UpdateAssignment(ctx context.Context, assignment *models.Assignment) error
	ListOpenByJob(ctx context.Context, jobID uuid.UUID) ([]models.Assignment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an assignments repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListActiveTranscribers(ctx context.Context) ([]models.Transcriber, error) {
	var transcribers []models.Transcriber
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.TranscriberStatusActive).
		Order("display_name ASC").
		Find(&transcribers).Error; err != nil {
		return nil, err
	}
	return transcribers, nil
}

func (r *repository) OpenWorkloads(ctx context.Context) ([]TranscriberLoad, error) {
	var loads []TranscriberLoad
	err := r.db.WithContext(ctx).
		Table("assignments").
		Select("assignments.transcriber_id AS transcriber_id, COALESCE(SUM(transcription_jobs.duration_minutes), 0) AS minutes").
		Joins("JOIN transcription_jobs ON transcription_jobs.id = assignments.job_id").
		Where("assignments.status IN ?", []enums.AssignmentStatus{
			enums.AssignmentStatusAssigned,
			enums.AssignmentStatusInProgress,
		}).
		Group("assignments.transcriber_id").
		Scan(&loads).Error
	if err != nil {
		return nil, err
	}
	return loads, nil
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).First(&assignment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) UpdateAssignment(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Save(assignment).Error
}

func (r *repository) ListOpenByJob(ctx context.Context, jobID uuid.UUID) ([]models.Assignment, error) {
	var open []models.Assignment
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID, []enums.AssignmentStatus{
			enums.AssignmentStatusAssigned,
			enums.AssignmentStatusInProgress,
		}).
		Find(&open).Error; err != nil {
		return nil, err
	}
	return open, nil
}
