package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxAccountID contextKey = "account_id"
	ctxUserRef   contextKey = "user_ref"
)

// AccountIDFromContext returns the authenticated caller's ledger account id.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	raw, ok := ctx.Value(ctxAccountID).(uuid.UUID)
	if !ok || raw == uuid.Nil {
		return uuid.Nil, false
	}
	return raw, true
}

// UserRefFromContext returns the external user reference from the token.
func UserRefFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(ctxUserRef).(string)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
