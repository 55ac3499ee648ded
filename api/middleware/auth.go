package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	pkgauth "github.com/talkscribe/talkscribe-backend/pkg/auth"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// Auth validates a bearer token and resolves the caller's ledger account,
// provisioning it with the trial allotment on first sight.
func Auth(cfg config.JWTConfig, ledgerSvc ledger.Service, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			account, err := ledgerSvc.EnsureAccount(r.Context(), claims.UserRef())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserRef, claims.UserRef())
			ctx = context.WithValue(ctx, ctxAccountID, account.ID)

			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"user_ref":   claims.UserRef(),
					"account_id": account.ID.String(),
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
