package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
)

// creditsPerMinute is the integer-credit quoting model used by estimation UIs.
var creditsPerMinute = map[enums.JobMode]int64{
	enums.JobModeAutomated: 1,
	enums.JobModeHybrid:    2,
	enums.JobModeManual:    3,
}

// CreditsRequired quotes the integer credits for a fractional number of
// minutes: ceil(minutes × creditsPerMinute(mode)).
func CreditsRequired(mode enums.JobMode, minutes decimal.Decimal) (int64, error) {
	per, ok := creditsPerMinute[mode]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown job mode")
	}
	if minutes.LessThanOrEqual(decimal.Zero) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "minutes must be positive")
	}
	return minutes.Mul(decimal.NewFromInt(per)).Ceil().IntPart(), nil
}
