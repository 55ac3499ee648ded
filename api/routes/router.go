package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talkscribe/talkscribe-backend/api/controllers"
	webhookcontrollers "github.com/talkscribe/talkscribe-backend/api/controllers/webhooks"
	"github.com/talkscribe/talkscribe-backend/api/middleware"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/internal/webhooks/payment"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// RouterParams groups everything the HTTP surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DBPinger     controllers.Pinger
	RedisPinger  controllers.Pinger
	Ledger       ledger.Service
	Jobs         jobs.Service
	Payment      payment.Service
	PaymentGuard *payment.IdempotencyGuard
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": params.DBPinger,
			"redis":    params.RedisPinger,
		}))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.PaymentWebhook(params.Payment, params.PaymentGuard, cfg.Payment.WebhookSecret, logg))
		r.Post("/engine", webhookcontrollers.EngineCallback(params.Jobs, cfg.Engine.CallbackSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, params.Ledger, logg))

		r.Route("/accounts/me", func(r chi.Router) {
			r.Get("/", controllers.AccountProfile(params.Ledger, logg))
			r.Get("/transactions", controllers.AccountTransactions(params.Ledger, logg))
		})

		r.Post("/estimates", controllers.Estimate(params.Ledger, logg))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", controllers.JobCreate(params.Jobs, logg))
			r.Get("/", controllers.JobList(params.Jobs, logg))
			r.Get("/{jobId}", controllers.JobDetail(params.Jobs, logg))
			r.Post("/{jobId}/retry", controllers.JobRetry(params.Jobs, logg))
			r.Post("/{jobId}/cancel", controllers.JobCancel(params.Jobs, logg))
			r.Post("/{jobId}/reset-retries", controllers.JobResetRetries(params.Jobs, logg))
		})

		r.Post("/assignments/{assignmentId}/transcript", controllers.SubmitTranscript(params.Jobs, logg))
	})

	return r
}
