package webhooks

import (
	"crypto/hmac"
	"net/http"

	"github.com/google/uuid"

	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/api/validators"
	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

const engineSecretHeader = "X-Engine-Secret"

type engineCallbackRequest struct {
	CallbackToken string `json:"callback_token" validate:"required"`
	Status        string `json:"status" validate:"required"`
	Transcript    string `json:"transcript,omitempty"`
}

// EngineCallback receives push completions from the transcription engine.
// The callback token is the job id we handed out at submission, so a valid
// secret plus an unknown token is a 404, not a crash. Late callbacks for
// terminal or in-review jobs are acknowledged without effect.
func EngineCallback(svc jobs.Service, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(engineSecretHeader)
		if secret == "" || !hmac.Equal([]byte(provided), []byte(secret)) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback secret"))
			return
		}

		var body engineCallbackRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		jobID, err := uuid.Parse(body.CallbackToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback token"))
			return
		}

		status, err := enums.ParseEngineJobStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid engine status"))
			return
		}

		job, err := svc.HandleEngineResult(r.Context(), jobID, engine.Result{
			Status:     status,
			Transcript: body.Transcript,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{
			"status":     "accepted",
			"job_status": job.Status.String(),
		})
	}
}
