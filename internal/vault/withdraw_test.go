package vault_test

import (
	"testing"
	"time"

	"VaultLedger/internal/vault"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var strat2 = uuid.MustParse("00000000-0000-0000-0000-0000000057a8")

// twoStrategies splits 100_000 evenly across two fakes, the first losing
// 1% on every liquidation.
func twoStrategies(t *testing.T) (*harness, *fakeAdapter, *fakeAdapter) {
	t.Helper()
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f1 := h.addFake(strat, 5_000)
	f2 := h.addFake(strat2, 5_000)
	h.clock.Advance(time.Second)
	h.harvest(strat)
	h.harvest(strat2)
	require.Zero(t, h.v.TotalIdle())
	f1.haircutBps = 100
	return h, f1, f2
}

// ============================================================================
// Test: Idle-only withdrawals
// ============================================================================

func TestWithdraw_FromIdle(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 10_000)

	res, err := h.v.Withdraw(alice, 4_000, bob, 0)
	require.NoError(t, err)

	want := vault.WithdrawResult{SharesBurned: 4_000, Value: 4_000, Paid: 4_000}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(4_000), h.wallet(bob))
	require.Equal(t, int64(6_000), h.v.BalanceOf(alice))
	require.Equal(t, int64(6_000), h.v.TotalAssets())
}

func TestWithdraw_Validation(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 10_000)

	_, err := h.v.Withdraw(alice, 1, alice, 10_001)
	require.ErrorIs(t, err, vault.ErrInvalidLossBound)

	_, err = h.v.Withdraw(alice, 1, alice, -1)
	require.ErrorIs(t, err, vault.ErrInvalidLossBound)

	_, err = h.v.Withdraw(alice, 0, alice, 0)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = h.v.Withdraw(alice, 10_001, alice, 0)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)

	_, err = h.v.Withdraw(bob, 1, bob, 0)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)
}

// ============================================================================
// Test: WithdrawalLossAllocator
// ============================================================================

func TestWithdraw_LiquidatesQueueInOrder(t *testing.T) {
	h, f1, f2 := twoStrategies(t)

	res, err := h.v.Withdraw(alice, 100_000, alice, 100)
	require.NoError(t, err)

	want := vault.WithdrawResult{SharesBurned: 100_000, Value: 100_000, Paid: 99_500, Loss: 500}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(99_500), h.wallet(alice))
	require.Zero(t, h.v.TotalSupply())
	require.Zero(t, h.v.TotalAssets())
	require.Zero(t, f1.EstimatedTotalAssets())
	require.Zero(t, f2.EstimatedTotalAssets())

	a1, _ := h.v.Strategy(strat)
	require.Equal(t, int64(500), a1.TotalLoss)
	require.Equal(t, int64(4_950), a1.DebtRatio)
	require.Equal(t, int64(9_950), h.v.DebtRatio())
}

func TestWithdraw_LossBoundRollsBack(t *testing.T) {
	h, f1, _ := twoStrategies(t)

	stateBefore := h.v.Export()
	balancesBefore := h.book.Tracker().Snapshot()

	_, err := h.v.Withdraw(alice, 100_000, alice, 10)
	require.ErrorIs(t, err, vault.ErrLossExceeded)

	if diff := cmp.Diff(stateBefore, h.v.Export()); diff != "" {
		t.Fatalf("vault state changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(balancesBefore, h.book.Tracker().Snapshot()); diff != "" {
		t.Fatalf("book changed (-before +after):\n%s", diff)
	}
	require.Equal(t, int64(50_000), f1.position())
	require.Equal(t, int64(100_000), h.v.BalanceOf(alice))
}

func TestWithdraw_LastStrategyInQueueSparedWhenFirstCovers(t *testing.T) {
	h, f1, f2 := twoStrategies(t)
	f1.haircutBps = 0

	res, err := h.v.Withdraw(alice, 30_000, alice, 0)
	require.NoError(t, err)
	require.Equal(t, int64(30_000), res.Paid)
	require.Equal(t, int64(20_000), f1.position())
	require.Equal(t, int64(50_000), f2.position())
}

func TestWithdraw_PartialWhenStrategiesIlliquid(t *testing.T) {
	h := newHarness(t)
	f := invested(t, h, 10_000)
	f.liquidityCap = 40_000

	res, err := h.v.Withdraw(alice, 100_000, alice, 0)
	require.NoError(t, err)

	want := vault.WithdrawResult{SharesBurned: 40_000, Value: 40_000, Paid: 40_000}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(60_000), h.v.BalanceOf(alice))
	require.Equal(t, int64(60_000), h.v.TotalDebt())
	require.Zero(t, h.v.TotalIdle())
}

func TestWithdraw_MaxAvailableShares(t *testing.T) {
	h := newHarness(t)
	invested(t, h, 6_000)
	require.Equal(t, int64(100_000), h.v.MaxAvailableShares())
}
