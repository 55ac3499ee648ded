package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talkscribe/talkscribe-backend/internal/assignments"
	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/pagination"
)

const defaultMaxRetries = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateInput describes a new transcription job request.
type CreateInput struct {
	AccountID       uuid.UUID
	Mode            enums.JobMode
	AudioRef        string
	DurationMinutes int
}

// Service is the job orchestrator: the only writer of job state. Funds are
// taken up front at creation; a compensating refund settles terminal failure
// and cancellation.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.TranscriptionJob, error)
	Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error)
	List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.TranscriptionJob, string, error)
	Retry(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error)
	ResetRetryCount(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error)
	Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error)
	SubmitTranscript(ctx context.Context, assignmentID uuid.UUID, text string) (*models.TranscriptionJob, error)
	// HandleEngineResult applies a poll or push-callback result. Terminal jobs
	// ignore late results.
	HandleEngineResult(ctx context.Context, jobID uuid.UUID, result engine.Result) (*models.TranscriptionJob, error)
	// MarkFailed records a failure reason; terminal failures also trigger the
	// compensating refund.
	MarkFailed(ctx context.Context, jobID uuid.UUID, reason string, terminal bool) (*models.TranscriptionJob, error)
	RecordPollAttempt(ctx context.Context, jobID uuid.UUID) (*models.TranscriptionJob, error)
}

// ServiceParams groups dependencies for the orchestrator.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Ledger      ledger.Service
	Assignments assignments.Service
	Engine      engine.Client
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger ledger.Service
	assign assignments.Service
	engine engine.Client
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the job orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Assignments == nil {
		return nil, fmt.Errorf("assignments service required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("engine client required")
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
		assign: params.Assignments,
		engine: params.Engine,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.TranscriptionJob, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if !input.Mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown job mode")
	}
	if input.AudioRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audio reference required")
	}
	if input.DurationMinutes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration must be positive")
	}

	jobID := uuid.New()
	plan, err := s.ledger.Deduct(ctx, input.AccountID, input.Mode, input.DurationMinutes, jobID)
	if err != nil {
		return nil, err
	}

	job := &models.TranscriptionJob{
		ID:              jobID,
		AccountID:       input.AccountID,
		Mode:            input.Mode,
		Status:          enums.JobStatusPending,
		AudioRef:        input.AudioRef,
		DurationMinutes: input.DurationMinutes,
		MaxRetries:      defaultMaxRetries,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		// funds are already committed; give them back before surfacing
		if _, refundErr := s.ledger.Refund(ctx, input.AccountID, jobID); refundErr != nil {
			s.logg.Error(ctx, "refund after failed job creation", refundErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create job")
	}

	logCtx := s.logg.WithJobID(ctx, jobID.String())
	logCtx = s.logg.WithField(logCtx, "total_cost", plan.TotalCost.String())
	s.logg.Info(logCtx, "job created and funded")

	return s.route(ctx, job)
}

// route hands a freshly created job to its mode's first phase. Routing
// failures are recorded on the job, not thrown past the boundary; the funds
// stay committed while the job is alive.
func (s *service) route(ctx context.Context, job *models.TranscriptionJob) (*models.TranscriptionJob, error) {
	switch job.Mode {
	case enums.JobModeAutomated, enums.JobModeHybrid:
		ref, err := s.engine.Submit(ctx, engine.SubmitRequest{
			AudioRef:         job.AudioRef,
			DurationMinutes:  job.DurationMinutes,
			Mode:             job.Mode,
			CorrelationToken: job.ID.String(),
		})
		if err != nil {
			reason := fmt.Sprintf("engine submission failed: %s", err)
			job.Status = enums.JobStatusError
			job.StatusReason = &reason
			if updateErr := s.repo.Update(ctx, job); updateErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "record submission failure")
			}
			s.logg.Error(s.logg.WithJobID(ctx, job.ID.String()), "engine submission failed", err)
			return job, nil
		}
		job.ExternalRef = &ref
		job.Status = enums.JobStatusProcessing
		if err := s.repo.Update(ctx, job); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record submission")
		}
		return job, nil

	case enums.JobModeManual:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			assignment, err := s.assign.WithTx(tx).Assign(ctx, job)
			if err != nil {
				return err
			}
			if assignment == nil {
				// queued until a transcriber becomes active; not an error
				job.Queued = true
			} else {
				job.AssignmentRef = &assignment.ID
				job.Status = enums.JobStatusProcessing
			}
			return s.repo.WithTx(tx).Update(ctx, job)
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "route manual job")
		}
		return job, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown job mode")
	}
}

func (s *service) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return job, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.TranscriptionJob, string, error) {
	jobs, err := s.repo.ListByAccount(ctx, accountID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list jobs")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	var next string
	if len(jobs) > limit {
		jobs = jobs[:limit]
		last := jobs[len(jobs)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return jobs, next, nil
}

func (s *service) Retry(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.Get(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "job is in a terminal state")
	}
	if job.Settled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "funds were refunded; submit a new job instead")
	}
	// a job the engine never saw cannot be retried, only resubmitted
	if job.ExternalRef == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNeedsResubmission, "job never reached the engine")
	}
	if job.Status != enums.JobStatusError {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only failed jobs can be retried")
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "retry budget exhausted; reset the retry counter first").
			WithDetails(map[string]int{"retry_count": job.RetryCount, "max_retries": job.MaxRetries})
	}

	ref, err := s.engine.Submit(ctx, engine.SubmitRequest{
		AudioRef:         job.AudioRef,
		DurationMinutes:  job.DurationMinutes,
		Mode:             job.Mode,
		CorrelationToken: job.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	job.RetryCount++
	job.ExternalRef = &ref
	job.Status = enums.JobStatusProcessing
	job.StatusReason = nil
	job.PollAttempts = 0
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record retry")
	}
	s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "job resubmitted to engine")
	return job, nil
}

func (s *service) ResetRetryCount(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.Get(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "job is in a terminal state")
	}
	if job.Settled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "funds were refunded; submit a new job instead")
	}

	previous := job.RetryCount
	job.RetryCount = 0
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset retry count")
	}
	logCtx := s.logg.WithJobID(ctx, job.ID.String())
	logCtx = s.logg.WithField(logCtx, "previous_retry_count", previous)
	s.logg.Warn(logCtx, "retry counter reset by operator")
	return job, nil
}

func (s *service) Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.Get(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	// work already performed is not returnable: once the job leaves
	// pending/processing the charge stands
	switch job.Status {
	case enums.JobStatusPending, enums.JobStatusProcessing:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "job can no longer be cancelled")
	}

	reason := "cancelled by account holder"
	job.Status = enums.JobStatusCancelled
	job.StatusReason = &reason
	job.Queued = false
	job.Settled = true
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancellation")
	}

	if _, err := s.ledger.Refund(ctx, job.AccountID, job.ID); err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return nil, err
		}
	}
	s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "job cancelled and refunded")
	return job, nil
}

func (s *service) SubmitTranscript(ctx context.Context, assignmentID uuid.UUID, text string) (*models.TranscriptionJob, error) {
	if text == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transcript text required")
	}

	var job *models.TranscriptionJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.assign.WithTx(tx).Complete(ctx, assignmentID); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		found, err := repo.FindByAssignmentRef(ctx, assignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no job for assignment")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job for assignment")
		}
		if found.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "job is in a terminal state")
		}

		now := s.now()
		// the human transcript always wins; a hybrid draft stays readable in
		// the snapshot
		found.FinalTranscript = &text
		found.Status = enums.JobStatusCompleted
		found.CompletedAt = &now
		if err := repo.Update(ctx, found); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transcript")
		}
		job = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "transcript submitted, job completed")
	return job, nil
}

func (s *service) HandleEngineResult(ctx context.Context, jobID uuid.UUID, result engine.Result) (*models.TranscriptionJob, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// late poll responses and duplicate callbacks must not revert terminal or
	// refunded jobs
	if job.Status.IsTerminal() || job.Settled || job.Status == enums.JobStatusHumanReview {
		return job, nil
	}

	switch result.Status {
	case enums.EngineJobStatusRunning:
		return job, nil

	case enums.EngineJobStatusRejected:
		return s.MarkFailed(ctx, jobID, "rejected by engine", job.RetryCount >= job.MaxRetries)

	case enums.EngineJobStatusDone:
		transcript := result.Transcript
		job.Transcript = &transcript

		if job.Mode == enums.JobModeAutomated {
			now := s.now()
			job.Status = enums.JobStatusCompleted
			job.CompletedAt = &now
			if err := s.repo.Update(ctx, job); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record completion")
			}
			return job, nil
		}

		// hybrid: snapshot the draft and enter the mandatory review phase
		externalRef := ""
		if job.ExternalRef != nil {
			externalRef = *job.ExternalRef
		}
		snapshot, err := json.Marshal(models.HybridSnapshotPayload{
			Transcript:  transcript,
			ExternalRef: externalRef,
			CapturedAt:  s.now(),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode hybrid snapshot")
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			job.HybridSnapshot = snapshot
			job.Status = enums.JobStatusHumanReview
			job.CompletedAt = nil

			assignment, err := s.assign.WithTx(tx).Assign(ctx, job)
			if err != nil {
				return err
			}
			if assignment == nil {
				job.Queued = true
			} else {
				job.AssignmentRef = &assignment.ID
			}
			return s.repo.WithTx(tx).Update(ctx, job)
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enter human review")
		}
		s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "hybrid job entered human review")
		return job, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown engine result status")
	}
}

func (s *service) MarkFailed(ctx context.Context, jobID uuid.UUID, reason string, terminal bool) (*models.TranscriptionJob, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() || job.Settled {
		return job, nil
	}

	job.Status = enums.JobStatusError
	job.StatusReason = &reason
	// the settled marker is what keeps a refunded job from ever being
	// resurrected, so it must be durable before the refund runs
	job.Settled = terminal
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failure")
	}

	logCtx := s.logg.WithJobID(ctx, job.ID.String())
	logCtx = s.logg.WithField(logCtx, "reason", reason)
	if !terminal {
		s.logg.Warn(logCtx, "job failed, retry possible")
		return job, nil
	}

	if _, err := s.ledger.Refund(ctx, job.AccountID, job.ID); err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return nil, err
		}
	}
	s.logg.Warn(logCtx, "job failed terminally, funds refunded")
	return job, nil
}

func (s *service) RecordPollAttempt(ctx context.Context, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.PollAttempts++
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record poll attempt")
	}
	return job, nil
}

func (s *service) findJob(ctx context.Context, jobID uuid.UUID) (*models.TranscriptionJob, error) {
	job, err := s.repo.Find(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	return job, nil
}
