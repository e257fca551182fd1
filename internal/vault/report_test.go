package vault_test

import (
	"math"
	"testing"
	"time"

	"VaultLedger/internal/vault"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func invested(t *testing.T, h *harness, ratio int64) *fakeAdapter {
	t.Helper()
	h.deposit(alice, 100_000)
	f := h.addFake(strat, ratio)
	h.clock.Advance(time.Second)
	h.harvest(strat)
	return f
}

// ============================================================================
// Test: Credit
// ============================================================================

func TestHarvest_FirstHarvestLendsUpToRatio(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f := h.addFake(strat, 7_500)
	h.clock.Advance(time.Second)

	res := h.harvest(strat)

	require.Equal(t, int64(75_000), res.Credit)
	require.Zero(t, res.DebtOutstanding)
	require.Equal(t, int64(75_000), h.v.TotalDebt())
	require.Equal(t, int64(25_000), h.v.TotalIdle())
	require.Equal(t, int64(75_000), f.position())
	require.Equal(t, int64(100_000), h.v.TotalAssets())
}

func TestHarvest_MaxDebtPerHarvestBoundsGrowth(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f := newFake(strat, h)
	require.NoError(t, h.v.AddStrategy(f, vault.StrategyParams{
		DebtRatio:         10_000,
		MaxDebtPerHarvest: 30_000,
	}))

	for _, want := range []int64{30_000, 60_000, 90_000, 100_000} {
		h.clock.Advance(time.Minute)
		h.harvest(strat)
		require.Equal(t, want, h.v.TotalDebt())
	}
}

func TestHarvest_MinDebtPerHarvestSkipsSmallCredit(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f := newFake(strat, h)
	require.NoError(t, h.v.AddStrategy(f, vault.StrategyParams{
		DebtRatio:         10_000,
		MinDebtPerHarvest: 5_000,
		MaxDebtPerHarvest: math.MaxInt64,
	}))
	h.clock.Advance(time.Second)
	h.harvest(strat)

	h.deposit(bob, 4_000)
	h.clock.Advance(time.Second)
	res := h.harvest(strat)
	require.Zero(t, res.Credit)
	require.Equal(t, int64(4_000), h.v.TotalIdle())
}

// ============================================================================
// Test: Profit and vesting
// ============================================================================

func TestHarvest_ProfitVestsLinearly(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)

	f.profit(t, 10_000)
	h.clock.Advance(time.Hour)
	res := h.harvest(strat)

	require.Equal(t, int64(10_000), res.Gain)
	require.Equal(t, int64(110_000), h.v.TotalAssets())
	require.Equal(t, int64(10_000), h.v.LockedProfit())
	require.Equal(t, int64(1_000_000), h.v.PricePerShare())

	h.clock.Advance(3 * time.Hour)
	require.Equal(t, int64(5_000), h.v.LockedProfit())
	require.Equal(t, int64(1_050_000), h.v.PricePerShare())

	h.clock.Advance(3 * time.Hour)
	require.Zero(t, h.v.LockedProfit())
	require.Equal(t, int64(1_100_000), h.v.PricePerShare())

	acct, ok := h.v.Strategy(strat)
	require.True(t, ok)
	require.Equal(t, int64(10_000), acct.TotalGain)
	require.Equal(t, int64(100_000), acct.TotalDebt)
}

func TestHarvest_FeesMintedAtPreGainPrice(t *testing.T) {
	h := newHarness(t, withFees(200, 1_000))
	h.deposit(alice, 100_000)
	strategist := uuid.MustParse("00000000-0000-0000-0000-00000000005e")
	f := newFake(strat, h)
	require.NoError(t, h.v.AddStrategy(f, vault.StrategyParams{
		DebtRatio:         10_000,
		MaxDebtPerHarvest: math.MaxInt64,
		PerformanceFeeBps: 1_000,
		Strategist:        strategist,
	}))
	h.clock.Advance(time.Second)
	first := h.harvest(strat)
	require.Zero(t, first.FeeShares, "no fees without gain")

	f.profit(t, 10_000)
	h.clock.Advance(24 * time.Hour)
	ppsBefore := h.v.PricePerShare()
	res := h.harvest(strat)

	// management: 100_000 * 2% * 1 day / year = 5
	want := vault.FeeBreakdown{Management: 5, Performance: 1_000, Strategist: 1_000}
	if diff := cmp.Diff(want, res.Fees); diff != "" {
		t.Fatalf("fees (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(2_005), res.FeeShares)
	require.Equal(t, int64(1_000), h.v.BalanceOf(strategist))
	require.Equal(t, int64(1_005), h.v.BalanceOf(treas))
	require.Equal(t, int64(102_005), h.v.TotalSupply())

	require.Equal(t, ppsBefore, h.v.PricePerShare(), "price must not jump at report")
	h.clock.Advance(vault.DefaultProfitUnlock)
	require.Equal(t, int64(1_078_378), h.v.PricePerShare())
}

func TestHarvest_PriceMonotoneAcrossProfitableReports(t *testing.T) {
	h := newHarness(t, withFees(200, 1_000))
	f := invested(t, h, 9_000)

	last := h.v.PricePerShare()
	for i := 0; i < 5; i++ {
		f.profit(t, int64(1_000*(i+1)))
		h.clock.Advance(2 * time.Hour)
		require.GreaterOrEqual(t, h.v.PricePerShare(), last)
		last = h.v.PricePerShare()

		h.harvest(strat)
		require.GreaterOrEqual(t, h.v.PricePerShare(), last)
		last = h.v.PricePerShare()
	}
}

func TestHarvest_NoopLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t, withFees(200, 1_000))
	invested(t, h, 10_000)
	h.clock.Advance(time.Hour)

	supply, assets, pps := h.v.TotalSupply(), h.v.TotalAssets(), h.v.PricePerShare()
	res := h.harvest(strat)

	require.Zero(t, res.Gain)
	require.Zero(t, res.Loss)
	require.Zero(t, res.DebtPayment)
	require.Zero(t, res.Credit)
	require.Equal(t, supply, h.v.TotalSupply())
	require.Equal(t, assets, h.v.TotalAssets())
	require.Equal(t, pps, h.v.PricePerShare())
}

// ============================================================================
// Test: Losses
// ============================================================================

func TestHarvest_LossShrinksDebtAndRatio(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)

	f.lose(t, 500)
	h.clock.Advance(time.Hour)
	res := h.harvest(strat)

	require.Equal(t, int64(500), res.Loss)
	acct, _ := h.v.Strategy(strat)
	require.Equal(t, int64(500), acct.TotalLoss)
	require.Equal(t, int64(9_950), acct.DebtRatio)
	require.Equal(t, int64(9_950), h.v.DebtRatio())
	require.Equal(t, int64(99_500), h.v.TotalAssets())
	require.Equal(t, int64(99_500), h.v.TotalDebt())
}

func TestReport_RejectsUnbackedReturn(t *testing.T) {
	h := newHarness(t)
	invested(t, h, 10_000)

	_, err := h.v.Report(strat, vault.Return{Gain: 1})
	require.ErrorIs(t, err, vault.ErrInsufficientStrategyBalance)

	_, err = h.v.Report(strat, vault.Return{Loss: 100_001})
	require.ErrorIs(t, err, vault.ErrInvalidAdapterReport)

	_, err = h.v.Report(strat, vault.Return{Gain: -1})
	require.ErrorIs(t, err, vault.ErrInvalidAdapterReport)
}

// ============================================================================
// Test: Health check
// ============================================================================

func TestHarvest_HealthCheck(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)
	require.NoError(t, h.v.SetStrategyHealthCheck(strat, &vault.HealthCheck{ProfitLimitBps: 100, LossLimitBps: 100}))

	f.profit(t, 5_000)
	h.clock.Advance(time.Hour)
	before := h.v.Export()
	_, err := h.v.Harvest(strat)
	require.ErrorIs(t, err, vault.ErrHealthCheck)
	if diff := cmp.Diff(before, h.v.Export()); diff != "" {
		t.Fatalf("state changed (-before +after):\n%s", diff)
	}
	require.Equal(t, int64(105_000), f.position())

	require.NoError(t, h.v.DisableHealthCheckOnce(strat))
	res := h.harvest(strat)
	require.Equal(t, int64(5_000), res.Gain)

	acct, _ := h.v.Strategy(strat)
	require.False(t, acct.SkipHealthCheck, "bypass is one-shot")
}

// ============================================================================
// Test: Shutdown and exit
// ============================================================================

func TestHarvest_EmergencyShutdownRecallsDebt(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)

	h.v.SetEmergencyShutdown(true)
	require.Equal(t, int64(100_000), h.v.DebtOutstanding(strat))
	require.Zero(t, h.v.CreditAvailable(strat))

	h.clock.Advance(time.Hour)
	res := h.harvest(strat)

	require.Equal(t, int64(100_000), res.DebtPayment)
	require.Zero(t, res.Credit)
	require.Zero(t, h.v.TotalDebt())
	require.Equal(t, int64(100_000), h.v.TotalIdle())
	require.Zero(t, f.EstimatedTotalAssets())

	wr, err := h.v.Withdraw(alice, h.v.BalanceOf(alice), alice, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), wr.Paid)
}

func TestHarvest_AdapterEmergencyExitRepaysAll(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)

	f.SetEmergencyExit()
	require.Equal(t, int64(100_000), h.v.DebtOutstanding(strat))

	h.clock.Advance(time.Hour)
	res := h.harvest(strat)

	require.True(t, res.EmergencyExit)
	require.Equal(t, int64(100_000), res.DebtPayment)
	require.Zero(t, res.Credit)
	require.Zero(t, h.v.TotalDebt())
	require.Zero(t, f.position())
	require.Zero(t, f.wallet())
}
