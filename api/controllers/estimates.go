package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/talkscribe/talkscribe-backend/api/middleware"
	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/api/validators"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

type estimateRequest struct {
	Mode            string `json:"mode" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1"`
}

// Estimate quotes a job before submission: the per-source funding breakdown
// plus the integer credit cost. It never mutates balances, so an insufficient
// plan is still a successful response.
func Estimate(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var body estimateRequest
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

		plan, err := svc.Estimate(r.Context(), accountID, mode, body.DurationMinutes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		credits, err := ledger.CreditsRequired(mode, decimal.NewFromInt(int64(body.DurationMinutes)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"plan":             plan,
			"credits_required": credits,
		})
	}
}
