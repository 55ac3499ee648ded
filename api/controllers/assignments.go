package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/api/validators"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

type submitTranscriptRequest struct {
	Transcript string `json:"transcript" validate:"required"`
}

// SubmitTranscript closes an open assignment with the transcriber's final
// text. The human result always takes precedence over any automated draft.
func SubmitTranscript(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "assignmentId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "assignment id is required"))
			return
		}
		assignmentID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid assignment id"))
			return
		}

		var body submitTranscriptRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.SubmitTranscript(r.Context(), assignmentID, body.Transcript)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newJobResponse(job))
	}
}
