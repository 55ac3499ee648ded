package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// Pinger is the dependency health-check surface shared by db and redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TalkScribe-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TalkScribe-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		statuses := map[string]string{}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				statuses[name] = "unreachable"
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unreachable").WithDetails(statuses))
				return
			}
			statuses[name] = "ok"
		}

		statuses["status"] = "ready"
		responses.WriteSuccess(w, statuses)
	}
}
