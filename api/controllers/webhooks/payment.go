package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/internal/webhooks/payment"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

const (
	paymentSignatureHeader = "X-Payment-Signature"
	maxWebhookBody         = 1 << 20
)

// PaymentWebhook receives completed-purchase events from the payment
// processor. The redis guard short-circuits fast replays; the durable
// payment_events row makes the credit exactly-once either way.
func PaymentWebhook(svc payment.Service, guard *payment.IdempotencyGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		signature := r.Header.Get(paymentSignatureHeader)
		if !payment.VerifySignature(body, secret, signature) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var event payment.Event
		if err := json.Unmarshal(body, &event); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload"))
			return
		}
		if event.EventID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
			return
		}

		if guard != nil {
			seen, err := guard.CheckAndMark(r.Context(), event.EventID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check"))
				return
			}
			if seen {
				if logg != nil {
					logg.Debug(logg.WithField(r.Context(), "event_id", event.EventID), "payment webhook replay skipped")
				}
				responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
				return
			}
		}

		if err := svc.HandleEvent(r.Context(), &event); err != nil {
			// Release the mark so the processor's redelivery gets another try.
			if guard != nil {
				if delErr := guard.Delete(r.Context(), event.EventID); delErr != nil && logg != nil {
					logg.Error(r.Context(), "release idempotency mark", delErr)
				}
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
