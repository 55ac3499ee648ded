package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/talkscribe/talkscribe-backend/pkg/db/models"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
)

func testSnapshot(account *models.Account, packages []models.CreditPackage, rate string) *balanceSnapshot {
	return &balanceSnapshot{
		account:    account,
		packages:   packages,
		walletRate: decimal.RequireFromString(rate),
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildPlanTrialThenWallet(t *testing.T) {
	account := &models.Account{
		ID:                 uuid.New(),
		FreeTrialTotal:     180,
		FreeTrialRemaining: 180,
		FreeTrialActive:    true,
		WalletBalance:      decimal.RequireFromString("1000"),
	}

	plan := buildPlan(testSnapshot(account, nil, "0.40"), enums.JobModeAutomated, 200)

	require.True(t, plan.Sufficient)
	require.Equal(t, 180, plan.TrialMinutes)
	require.Empty(t, plan.PackageDraws)
	require.Equal(t, 20, plan.WalletMinutes)
	require.True(t, plan.WalletAmount.Equal(decimal.RequireFromString("8.00")),
		"wallet amount %s", plan.WalletAmount)
	require.True(t, plan.TotalCost.Equal(decimal.RequireFromString("8.00")))
}

func TestBuildPlanInsufficientWallet(t *testing.T) {
	account := &models.Account{
		ID:            uuid.New(),
		WalletBalance: decimal.RequireFromString("5.00"),
	}

	plan := buildPlan(testSnapshot(account, nil, "0.40"), enums.JobModeAutomated, 100)

	require.False(t, plan.Sufficient)
	require.Equal(t, 0, plan.TrialMinutes)
	require.Equal(t, 100, plan.WalletMinutes)
	require.True(t, plan.WalletAmount.Equal(decimal.RequireFromString("40.00")))
}

func TestBuildPlanDrainsCheapestPackageFirst(t *testing.T) {
	account := &models.Account{
		ID:            uuid.New(),
		WalletBalance: decimal.Zero,
	}
	expires := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	cheap := models.CreditPackage{
		ID:               uuid.New(),
		Mode:             enums.JobModeAutomated,
		MinutesTotal:     100,
		MinutesUsed:      70,
		MinutesRemaining: 30,
		RatePerMinute:    decimal.RequireFromString("0.60"),
		ExpiresAt:        expires,
		Active:           true,
	}
	pricey := models.CreditPackage{
		ID:               uuid.New(),
		Mode:             enums.JobModeAutomated,
		MinutesTotal:     100,
		MinutesRemaining: 100,
		RatePerMinute:    decimal.RequireFromString("0.75"),
		ExpiresAt:        expires,
		Active:           true,
	}

	// List deliberately priciest-first; the planner must reorder.
	plan := buildPlan(testSnapshot(account, []models.CreditPackage{pricey, cheap}, "0.40"), enums.JobModeAutomated, 50)

	require.True(t, plan.Sufficient)
	require.Len(t, plan.PackageDraws, 2)
	require.Equal(t, cheap.ID, plan.PackageDraws[0].PackageID)
	require.Equal(t, 30, plan.PackageDraws[0].Minutes)
	require.Equal(t, pricey.ID, plan.PackageDraws[1].PackageID)
	require.Equal(t, 20, plan.PackageDraws[1].Minutes)
	require.Equal(t, 0, plan.WalletMinutes)
	require.True(t, plan.TotalCost.Equal(decimal.RequireFromString("33.00")),
		"total cost %s", plan.TotalCost)
}

func TestBuildPlanSkipsIneligiblePackages(t *testing.T) {
	account := &models.Account{ID: uuid.New(), WalletBalance: decimal.RequireFromString("100")}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	packages := []models.CreditPackage{
		{
			ID:               uuid.New(),
			Mode:             enums.JobModeManual,
			MinutesRemaining: 500,
			RatePerMinute:    decimal.RequireFromString("0.10"),
			ExpiresAt:        now.AddDate(0, 1, 0),
			Active:           true,
		},
		{
			ID:               uuid.New(),
			Mode:             enums.JobModeAutomated,
			MinutesRemaining: 500,
			RatePerMinute:    decimal.RequireFromString("0.10"),
			ExpiresAt:        now.AddDate(0, -1, 0),
			Active:           true,
		},
	}

	plan := buildPlan(testSnapshot(account, packages, "0.40"), enums.JobModeAutomated, 10)

	require.Empty(t, plan.PackageDraws)
	require.Equal(t, 10, plan.WalletMinutes)
}

// Every plan must account for the requested minutes exactly once across the
// three sources.
func TestBuildPlanFullyAccountsMinutes(t *testing.T) {
	account := &models.Account{
		ID:                 uuid.New(),
		FreeTrialTotal:     180,
		FreeTrialUsed:      140,
		FreeTrialRemaining: 40,
		FreeTrialActive:    true,
		WalletBalance:      decimal.RequireFromString("500"),
	}
	expires := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	packages := []models.CreditPackage{
		{
			ID:               uuid.New(),
			Mode:             enums.JobModeHybrid,
			MinutesRemaining: 25,
			RatePerMinute:    decimal.RequireFromString("0.50"),
			ExpiresAt:        expires,
			Active:           true,
		},
	}

	for _, minutes := range []int{1, 39, 40, 41, 65, 66, 200} {
		plan := buildPlan(testSnapshot(account, packages, "0.80"), enums.JobModeHybrid, minutes)
		covered := plan.TrialMinutes + plan.PackageMinutes() + plan.WalletMinutes
		require.Equal(t, minutes, covered, "request of %d minutes", minutes)
	}
}

func TestCreditsRequiredRounding(t *testing.T) {
	minutes := decimal.RequireFromString("30.5")

	cases := []struct {
		mode enums.JobMode
		want int64
	}{
		{enums.JobModeAutomated, 31},
		{enums.JobModeHybrid, 61},
		{enums.JobModeManual, 92},
	}
	for _, tc := range cases {
		got, err := CreditsRequired(tc.mode, minutes)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "mode %s", tc.mode)
	}
}

func TestCreditsRequiredRejectsBadInput(t *testing.T) {
	if _, err := CreditsRequired(enums.JobMode("bogus"), decimal.NewFromInt(10)); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := CreditsRequired(enums.JobModeAutomated, decimal.Zero); err == nil {
		t.Fatal("expected error for zero minutes")
	}
}
