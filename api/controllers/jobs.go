package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/talkscribe/talkscribe-backend/api/middleware"
	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/api/validators"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

type createJobRequest struct {
	Mode            string `json:"mode" validate:"required"`
	AudioRef        string `json:"audio_ref" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1"`
}

type jobResponse struct {
	ID              uuid.UUID       `json:"id"`
	Mode            string          `json:"mode"`
	Status          string          `json:"status"`
	StatusReason    *string         `json:"status_reason,omitempty"`
	Queued          bool            `json:"queued"`
	AudioRef        string          `json:"audio_ref"`
	DurationMinutes int             `json:"duration_minutes"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	Transcript      *string         `json:"transcript,omitempty"`
	FinalTranscript *string         `json:"final_transcript,omitempty"`
	HybridSnapshot  json.RawMessage `json:"hybrid_snapshot,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newJobResponse(job *models.TranscriptionJob) jobResponse {
	return jobResponse{
		ID:              job.ID,
		Mode:            job.Mode.String(),
		Status:          job.Status.String(),
		StatusReason:    job.StatusReason,
		Queued:          job.Queued,
		AudioRef:        job.AudioRef,
		DurationMinutes: job.DurationMinutes,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		Transcript:      job.Transcript,
		FinalTranscript: job.FinalTranscript,
		HybridSnapshot:  job.HybridSnapshot,
		CompletedAt:     job.CompletedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id")
	}
	return jobID, nil
}

// JobCreate deducts funds and submits a new transcription job. A 201 response
// means the funds are committed, even if the job has already recorded an
// engine failure.
func JobCreate(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var body createJobRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		mode, err := enums.ParseJobMode(body.Mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mode").WithDetails(map[string]any{"field": "mode"}))
			return
		}

		job, err := svc.Create(r.Context(), jobs.CreateInput{
			AccountID:       accountID,
			Mode:            mode,
			AudioRef:        body.AudioRef,
			DurationMinutes: body.DurationMinutes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newJobResponse(job))
	}
}

// JobList pages through the caller's jobs, newest first.
func JobList(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, nextCursor, err := svc.List(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]jobResponse, 0, len(list))
		for i := range list {
			items = append(items, newJobResponse(&list[i]))
		}

		responses.WriteSuccess(w, map[string]any{
			"jobs":        items,
			"next_cursor": nextCursor,
		})
	}
}

// JobDetail returns one job, scoped to the caller's account.
func JobDetail(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		jobID, err := parseJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Get(r.Context(), accountID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newJobResponse(job))
	}
}

// JobRetry resubmits a failed job within its retry budget.
func JobRetry(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(r *http.Request, svc jobs.Service, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
		return svc.Retry(r.Context(), accountID, jobID)
	})
}

// JobCancel cancels a non-terminal job and refunds its funds.
func JobCancel(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(r *http.Request, svc jobs.Service, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
		return svc.Cancel(r.Context(), accountID, jobID)
	})
}

// JobResetRetries zeroes a job's retry counter so it can be retried again.
func JobResetRetries(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(r *http.Request, svc jobs.Service, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error) {
		return svc.ResetRetryCount(r.Context(), accountID, jobID)
	})
}

func jobAction(svc jobs.Service, logg *logger.Logger,
	action func(r *http.Request, svc jobs.Service, accountID, jobID uuid.UUID) (*models.TranscriptionJob, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		jobID, err := parseJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := action(r, svc, accountID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newJobResponse(job))
	}
}
