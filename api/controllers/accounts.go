package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talkscribe/talkscribe-backend/api/middleware"
	"github.com/talkscribe/talkscribe-backend/api/responses"
	"github.com/talkscribe/talkscribe-backend/api/validators"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

type trialBalance struct {
	Total     int  `json:"total"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Active    bool `json:"active"`
}

type packageBalance struct {
	ID               uuid.UUID       `json:"id"`
	Mode             string          `json:"mode"`
	MinutesTotal     int             `json:"minutes_total"`
	MinutesRemaining int             `json:"minutes_remaining"`
	RatePerMinute    decimal.Decimal `json:"rate_per_minute"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

type accountProfile struct {
	ID            uuid.UUID        `json:"id"`
	UserRef       string           `json:"user_ref"`
	Trial         trialBalance     `json:"trial"`
	WalletBalance decimal.Decimal  `json:"wallet_balance"`
	Packages      []packageBalance `json:"packages"`
}

func newAccountProfile(account *models.Account, packages []models.CreditPackage) accountProfile {
	profile := accountProfile{
		ID:      account.ID,
		UserRef: account.UserRef,
		Trial: trialBalance{
			Total:     account.FreeTrialTotal,
			Used:      account.FreeTrialUsed,
			Remaining: account.FreeTrialRemaining,
			Active:    account.FreeTrialActive,
		},
		WalletBalance: account.WalletBalance,
		Packages:      []packageBalance{},
	}
	for _, pkg := range packages {
		profile.Packages = append(profile.Packages, packageBalance{
			ID:               pkg.ID,
			Mode:             pkg.Mode.String(),
			MinutesTotal:     pkg.MinutesTotal,
			MinutesRemaining: pkg.MinutesRemaining,
			RatePerMinute:    pkg.RatePerMinute,
			ExpiresAt:        pkg.ExpiresAt,
		})
	}
	return profile
}

// AccountProfile returns the caller's balances across all funding sources.
func AccountProfile(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		account, packages, err := svc.GetAccount(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newAccountProfile(account, packages))
	}
}

// AccountTransactions pages through the caller's funds audit trail, newest
// first.
func AccountTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
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

		transactions, nextCursor, err := svc.ListTransactions(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"transactions": transactions,
			"next_cursor":  nextCursor,
		})
	}
}
