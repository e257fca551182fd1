package vault_test

import (
	"testing"
	"time"

	"VaultLedger/internal/ledger"
	"VaultLedger/internal/vault"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit_FirstDepositorMintsOneToOne(t *testing.T) {
	h := newHarness(t)

	shares := h.deposit(alice, 1_000_000)

	require.Equal(t, int64(1_000_000), shares)
	require.Equal(t, int64(1_000_000), h.v.TotalSupply())
	require.Equal(t, int64(1_000_000), h.v.TotalIdle())
	require.Equal(t, int64(1_000_000), h.v.PricePerShare())
	require.Equal(t, shares, h.v.BalanceOf(alice))
	require.Zero(t, h.wallet(alice))
}

func TestDeposit_Rejections(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1_000)

	_, err := h.v.Deposit(alice, 0)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	require.NoError(t, h.v.SetDepositLimit(500))
	_, err = h.v.Deposit(alice, 501)
	require.ErrorIs(t, err, vault.ErrCapacityExceeded)

	require.NoError(t, h.v.SetDepositLimit(10_000))
	_, err = h.v.Deposit(alice, 2_000)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	h.v.SetEmergencyShutdown(true)
	_, err = h.v.Deposit(alice, 100)
	require.ErrorIs(t, err, vault.ErrEmergencyShutdown)

	require.Zero(t, h.v.TotalSupply())
	require.Zero(t, h.v.TotalAssets())
	require.Equal(t, int64(1_000), h.wallet(alice))
}

func TestDeposit_SecondDepositorPaysCurrentPrice(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f := h.addFake(strat, 10_000)
	h.clock.Advance(time.Second)
	h.harvest(strat)

	f.profit(t, 10_000)
	h.clock.Advance(time.Hour)
	h.harvest(strat)
	h.clock.Advance(vault.DefaultProfitUnlock)

	// free funds 110_000 over 100_000 shares
	shares := h.deposit(bob, 11_000)
	require.Equal(t, int64(10_000), shares)
}

// ============================================================================
// Test: Share transfers
// ============================================================================

func TestTransferShares(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 5_000)

	require.NoError(t, h.v.TransferShares(alice, bob, 2_000))
	require.Equal(t, int64(3_000), h.v.BalanceOf(alice))
	require.Equal(t, int64(2_000), h.v.BalanceOf(bob))

	err := h.v.TransferShares(alice, bob, 3_001)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)

	err = h.v.TransferShares(alice, h.v.ID(), 1)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)
}

// ============================================================================
// Test: Conservation
// ============================================================================

func TestConservation_NoGainNoLoss(t *testing.T) {
	h := newHarness(t)
	h.addFake(strat, 6_000)

	var deposited, paid int64
	step := func() {
		t.Helper()
		require.Equal(t, deposited-paid, h.v.TotalAssets())
		require.Equal(t, h.v.TotalIdle()+h.v.TotalDebt(), h.v.TotalAssets())
	}

	for i, amt := range []int64{100_000, 25_000, 40_000} {
		holder := []uuid.UUID{alice, bob, gov}[i]
		h.deposit(holder, amt)
		deposited += amt
		step()

		h.clock.Advance(time.Hour)
		h.harvest(strat)
		step()
	}

	res, err := h.v.Withdraw(bob, h.v.BalanceOf(bob), bob, 0)
	require.NoError(t, err)
	paid += res.Paid
	step()

	h.clock.Advance(time.Hour)
	h.harvest(strat)
	step()

	res, err = h.v.Withdraw(alice, h.v.BalanceOf(alice), alice, 0)
	require.NoError(t, err)
	require.Zero(t, res.Loss)
	paid += res.Paid
	step()

	require.Equal(t, int64(25_000), h.wallet(bob))
	require.Equal(t, int64(100_000), h.wallet(alice))
}

// ============================================================================
// Test: Atomicity
// ============================================================================

func TestHarvest_AdapterFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100_000)
	f := h.addFake(strat, 10_000)
	h.clock.Advance(time.Second)

	stateBefore := h.v.Export()
	balancesBefore := h.book.Tracker().Snapshot()

	f.adjustErr = errBoom
	_, err := h.v.Harvest(strat)
	require.ErrorIs(t, err, errBoom)

	if diff := cmp.Diff(stateBefore, h.v.Export()); diff != "" {
		t.Fatalf("vault state changed after failed harvest (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(balancesBefore, h.book.Tracker().Snapshot()); diff != "" {
		t.Fatalf("book changed after failed harvest (-before +after):\n%s", diff)
	}
	require.Zero(t, f.position())
}

func TestTend_RollsBackAdapterState(t *testing.T) {
	h := newHarness(t)
	f := h.addFake(strat, 5_000)

	require.NoError(t, h.v.Tend(strat))
	require.Equal(t, 1, f.st.tends)

	err := h.v.Tend(uuid.New())
	require.ErrorIs(t, err, vault.ErrNotActive)
}

// ============================================================================
// Test: Export / Restore
// ============================================================================

func TestExportRestore_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 50_000)
	f := h.addFake(strat, 8_000)
	h.clock.Advance(time.Minute)
	h.harvest(strat)

	st := h.v.Export()

	other, err := vault.New(vault.Config{ID: h.v.ID(), Want: h.want}, h.book, h.clock)
	require.NoError(t, err)

	err = other.Restore(st, nil)
	require.Error(t, err, "queued strategy without adapter must be rejected")

	require.NoError(t, other.Restore(st, map[uuid.UUID]vault.StrategyAdapter{strat: f}))
	if diff := cmp.Diff(st, other.Export()); diff != "" {
		t.Fatalf("restored state differs (-want +got):\n%s", diff)
	}
	require.Equal(t, h.v.PricePerShare(), other.PricePerShare())
	require.Equal(t, int64(40_000), other.TotalDebt())
}
