package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

// PackageDraw records how many minutes a single package contributes to a plan.
type PackageDraw struct {
	PackageID uuid.UUID       `json:"package_id"`
	Minutes   int             `json:"minutes"`
	Rate      decimal.Decimal `json:"rate"`
	Cost      decimal.Decimal `json:"cost"`
}

// Plan is the per-source breakdown for a requested number of minutes.
// Estimate returns it read-only; Deduct applies it atomically. Both are built
// by the same source chain, so they cannot drift.
type Plan struct {
	Mode             enums.JobMode   `json:"mode"`
	RequestedMinutes int             `json:"requested_minutes"`
	TrialMinutes     int             `json:"trial_minutes"`
	PackageDraws     []PackageDraw   `json:"package_draws,omitempty"`
	WalletMinutes    int             `json:"wallet_minutes"`
	WalletRate       decimal.Decimal `json:"wallet_rate"`
	WalletAmount     decimal.Decimal `json:"wallet_amount"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Sufficient       bool            `json:"sufficient"`
}

// PackageMinutes sums the minutes drawn from all packages.
func (p *Plan) PackageMinutes() int {
	total := 0
	for _, draw := range p.PackageDraws {
		total += draw.Minutes
	}
	return total
}

// balanceSnapshot is the read-consistent view of an account's funds that the
// source chain plans against.
type balanceSnapshot struct {
	account    *models.Account
	packages   []models.CreditPackage
	walletRate decimal.Decimal
	now        time.Time
}

// fundingSource plans a contribution from one funds pool. Sources run in a
// fixed order and each returns the minutes still uncovered.
type fundingSource interface {
	name() string
	apply(snap *balanceSnapshot, remaining int, plan *Plan) int
}

// fundingChain is the single, fixed priority order: trial, then packages
// cheapest-first, then wallet.
var fundingChain = []fundingSource{
	trialSource{},
	packageSource{},
	walletSource{},
}

// buildPlan runs the funding chain against a snapshot. It never mutates the
// snapshot's models.
func buildPlan(snap *balanceSnapshot, mode enums.JobMode, minutes int) *Plan {
	plan := &Plan{
		Mode:             mode,
		RequestedMinutes: minutes,
		WalletRate:       snap.walletRate,
		WalletAmount:     decimal.Zero,
		TotalCost:        decimal.Zero,
		Sufficient:       true,
	}
	remaining := minutes
	for _, source := range fundingChain {
		remaining = source.apply(snap, remaining, plan)
	}
	return plan
}

// trialSource consumes the one-time free allotment. Trial minutes are
// mode-agnostic and cost nothing.
type trialSource struct{}

func (trialSource) name() string { return "trial" }

func (trialSource) apply(snap *balanceSnapshot, remaining int, plan *Plan) int {
	if remaining <= 0 {
		return remaining
	}
	account := snap.account
	if account == nil || !account.FreeTrialActive || account.FreeTrialRemaining <= 0 {
		return remaining
	}
	take := account.FreeTrialRemaining
	if take > remaining {
		take = remaining
	}
	plan.TrialMinutes = take
	return remaining - take
}

// packageSource drains eligible packages cheapest-first, exhausting each one
// before moving to the next.
type packageSource struct{}

func (packageSource) name() string { return "package" }

func (packageSource) apply(snap *balanceSnapshot, remaining int, plan *Plan) int {
	if remaining <= 0 {
		return remaining
	}
	eligible := make([]models.CreditPackage, 0, len(snap.packages))
	for _, pkg := range snap.packages {
		if pkg.EligibleFor(plan.Mode, snap.now) {
			eligible = append(eligible, pkg)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].RatePerMinute.Equal(eligible[j].RatePerMinute) {
			return eligible[i].RatePerMinute.LessThan(eligible[j].RatePerMinute)
		}
		return eligible[i].ExpiresAt.Before(eligible[j].ExpiresAt)
	})

	for _, pkg := range eligible {
		if remaining <= 0 {
			break
		}
		take := pkg.MinutesRemaining
		if take > remaining {
			take = remaining
		}
		cost := pkg.RatePerMinute.Mul(decimal.NewFromInt(int64(take)))
		plan.PackageDraws = append(plan.PackageDraws, PackageDraw{
			PackageID: pkg.ID,
			Minutes:   take,
			Rate:      pkg.RatePerMinute,
			Cost:      cost,
		})
		plan.TotalCost = plan.TotalCost.Add(cost)
		remaining -= take
	}
	return remaining
}

// walletSource covers any remainder from the cash balance at the mode's
// standard rate. It decides sufficiency but never overdraws.
type walletSource struct{}

func (walletSource) name() string { return "wallet" }

func (walletSource) apply(snap *balanceSnapshot, remaining int, plan *Plan) int {
	if remaining <= 0 {
		return remaining
	}
	plan.WalletMinutes = remaining
	plan.WalletAmount = snap.walletRate.Mul(decimal.NewFromInt(int64(remaining)))
	plan.TotalCost = plan.TotalCost.Add(plan.WalletAmount)
	if snap.account == nil || snap.account.WalletBalance.LessThan(plan.WalletAmount) {
		plan.Sufficient = false
	}
	return 0
}
