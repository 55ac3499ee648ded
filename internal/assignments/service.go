package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// Service hands jobs to human transcribers by workload and tracks the
// resulting assignments.
type Service interface {
	WithTx(tx *gorm.DB) Service
	// PickTranscriber returns the least-loaded active transcriber, ties broken
	// by highest rating. (nil, nil) means nobody is available and the job
	// should queue.
	PickTranscriber(ctx context.Context) (*models.Transcriber, error)
	// Assign creates an assignment for the job, or returns (nil, nil) when no
	// transcriber is available.
	Assign(ctx context.Context, job *models.TranscriptionJob) (*models.Assignment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	Complete(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
}

// ServiceParams groups dependencies for the assignment service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Config config.AssignmentConfig
	Now    func() time.Time
}

type service struct {
	repo Repository
	logg *logger.Logger
	cfg  config.AssignmentConfig
	now  func() time.Time
}

// NewService wires the assignment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("assignments repository required")
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
		logg: params.Logger,
		cfg:  params.Config,
		now:  now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		repo: s.repo.WithTx(tx),
		logg: s.logg,
		cfg:  s.cfg,
		now:  s.now,
	}
}

func (s *service) overheadFactor() decimal.Decimal {
	if s.cfg.ReviewOverheadFactor.IsPositive() {
		return s.cfg.ReviewOverheadFactor
	}
	return decimal.RequireFromString("3.5")
}

func (s *service) PickTranscriber(ctx context.Context) (*models.Transcriber, error) {
	transcribers, err := s.repo.ListActiveTranscribers(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transcribers")
	}
	if len(transcribers) == 0 {
		return nil, nil
	}

	loads, err := s.repo.OpenWorkloads(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load workloads")
	}
	minutesByID := make(map[uuid.UUID]int, len(loads))
	for _, load := range loads {
		minutesByID[load.TranscriberID] = load.Minutes
	}

	factor := s.overheadFactor()
	var best *models.Transcriber
	var bestWorkload decimal.Decimal
	for i := range transcribers {
		candidate := &transcribers[i]
		workload := factor.Mul(decimal.NewFromInt(int64(minutesByID[candidate.ID])))
		switch {
		case best == nil,
			workload.LessThan(bestWorkload),
			workload.Equal(bestWorkload) && candidate.Rating.GreaterThan(best.Rating):
			best = candidate
			bestWorkload = workload
		}
	}
	return best, nil
}

func (s *service) Assign(ctx context.Context, job *models.TranscriptionJob) (*models.Assignment, error) {
	open, err := s.repo.ListOpenByJob(ctx, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open assignments")
	}
	if len(open) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "job already has an open assignment")
	}

	transcriber, err := s.PickTranscriber(ctx)
	if err != nil {
		return nil, err
	}
	if transcriber == nil {
		return nil, nil
	}

	now := s.now()
	estimated := s.overheadFactor().
		Mul(decimal.NewFromInt(int64(job.DurationMinutes))).
		Ceil().IntPart()
	assignment := &models.Assignment{
		JobID:               job.ID,
		TranscriberID:       transcriber.ID,
		Status:              enums.AssignmentStatusAssigned,
		AssignedAt:          now,
		EstimatedCompletion: now.Add(time.Duration(estimated) * time.Minute),
	}
	if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
	}

	logCtx := s.logg.WithJobID(ctx, job.ID.String())
	logCtx = s.logg.WithField(logCtx, "transcriber_id", transcriber.ID.String())
	s.logg.Info(logCtx, "job assigned")
	return assignment, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	assignment, err := s.repo.FindAssignment(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	return assignment, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	assignment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status == enums.AssignmentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already completed")
	}

	now := s.now()
	assignment.Status = enums.AssignmentStatusCompleted
	assignment.CompletedAt = &now
	if err := s.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete assignment")
	}
	return assignment, nil
}
