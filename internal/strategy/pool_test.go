package strategy_test

import (
	"math"
	"testing"
	"time"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/strategy"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const usdc = 1_000_000

var (
	t0     = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	user1  = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	user2  = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	user3  = uuid.MustParse("10000000-0000-0000-0000-000000000003")
	gov    = uuid.MustParse("10000000-0000-0000-0000-0000000000aa")
	stratA = uuid.MustParse("20000000-0000-0000-0000-00000000000a")
	stratB = uuid.MustParse("20000000-0000-0000-0000-00000000000b")
)

type fixture struct {
	t     *testing.T
	book  *ledger.Book
	clock *vault.ManualClock
	v     *vault.Vault
	venue *strategy.Venue
	s     *strategy.PoolStrategy
	want  ledger.AssetID
}

func newFixture(t *testing.T, ratio int64, cfg strategy.PoolConfig) *fixture {
	t.Helper()
	vcfg := strategy.DefaultVenueConfig()
	book := ledger.NewBook(ledger.NewBalanceTracker())
	book.Begin("strategy-test", 1, t0.UnixMicro())
	clock := vault.NewManualClock(t0)

	v, err := vault.New(vault.Config{
		ID:           uuid.MustParse("30000000-0000-0000-0000-000000000001"),
		Want:         vcfg.Want,
		DepositLimit: math.MaxInt64,
		FeeRecipient: gov,
	}, book, clock)
	require.NoError(t, err)

	venue, err := strategy.NewVenue(vcfg, book)
	require.NoError(t, err)

	if cfg.ID == uuid.Nil {
		cfg.ID = stratA
	}
	s, err := strategy.NewPoolStrategy(cfg, venue, v)
	require.NoError(t, err)
	require.NoError(t, v.AddStrategy(s, vault.StrategyParams{DebtRatio: ratio, MaxDebtPerHarvest: math.MaxInt64}))

	return &fixture{t: t, book: book, clock: clock, v: v, venue: venue, s: s, want: vcfg.Want}
}

func (f *fixture) deposit(holder uuid.UUID, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.book.Transfer(ledger.External(ledger.SubTypeExternalDeposits, f.want), ledger.HolderWallet(holder, f.want), amount, ledger.JournalTypeFund))
	_, err := f.v.Deposit(holder, amount)
	require.NoError(f.t, err)
}

func (f *fixture) harvest() vault.ReportResult {
	f.t.Helper()
	f.clock.Advance(time.Second)
	res, err := f.v.Harvest(f.s.ID())
	require.NoError(f.t, err)
	return res
}

func (f *fixture) balance(holder uuid.UUID) int64 {
	return f.book.Balance(ledger.HolderWallet(holder, f.want))
}

// airdropAPY sends rewards worth aprBps of principal over elapsed.
func (f *fixture) airdropAPY(principal, aprBps int64, elapsed time.Duration) {
	f.t.Helper()
	rewards, err := f.venue.RewardsForAPY(principal, aprBps, int64(elapsed/time.Second))
	require.NoError(f.t, err)
	require.NoError(f.t, f.venue.AirdropTo(f.s.ID(), rewards))
}

func slippageTolerance(amount int64) float64 {
	return float64(amount) * 0.01
}

// ============================================================================
// Test: Scenarios
// ============================================================================

func TestScenarioA_DepositHarvestWithdraw(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	amount := int64(100_000 * usdc)
	f.deposit(user1, amount)

	res := f.harvest()
	require.Equal(t, amount, res.Credit)
	require.InDelta(t, amount, f.s.EstimatedTotalAssets(), slippageTolerance(amount))

	w, err := f.v.Withdraw(user1, f.v.BalanceOf(user1), user1, 100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, f.balance(user1), fpmath.BpsOf(amount, 9_900))
	require.Equal(t, w.Paid, f.balance(user1))
	require.Zero(t, f.v.TotalSupply())
}

func TestScenarioB_SequentialWithdrawalsWithinBounds(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	deposits := map[uuid.UUID]int64{user1: 100_000 * usdc, user2: 10_000 * usdc, user3: 100_000 * usdc}
	var total int64
	for _, u := range []uuid.UUID{user1, user2, user3} {
		f.deposit(u, deposits[u])
		total += deposits[u]
	}
	f.harvest()

	f.airdropAPY(total, 2_000, 7*24*time.Hour)
	res := f.harvest()
	require.Positive(t, res.Gain)
	f.clock.Advance(vault.DefaultProfitUnlock)

	for _, step := range []struct {
		user    uuid.UUID
		maxLoss int64
	}{{user1, 100}, {user2, 100}, {user3, 250}} {
		w, err := f.v.Withdraw(step.user, f.v.BalanceOf(step.user), step.user, step.maxLoss)
		require.NoError(t, err)
		require.LessOrEqual(t, w.Loss, fpmath.BpsOf(w.Value, step.maxLoss))
		require.GreaterOrEqual(t, f.balance(step.user), fpmath.BpsOf(deposits[step.user], fpmath.MaxBps-step.maxLoss))
	}
	require.Zero(t, f.v.TotalSupply())
}

func TestScenarioB_LastWithdrawerAbsorbsUnreportedLoss(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	f.deposit(user1, 100_000*usdc)
	f.deposit(user2, 10_000*usdc)
	f.deposit(user3, 100_000*usdc)
	f.harvest()

	w1, err := f.v.Withdraw(user1, f.v.BalanceOf(user1), user1, 100)
	require.NoError(t, err)
	w2, err := f.v.Withdraw(user2, f.v.BalanceOf(user2), user2, 100)
	require.NoError(t, err)
	w3, err := f.v.Withdraw(user3, f.v.BalanceOf(user3), user3, 100)
	require.NoError(t, err)

	require.Equal(t, int64(50*usdc), w1.Loss)
	require.Equal(t, int64(5*usdc), w2.Loss)
	require.Equal(t, int64(154_947_500), w3.Loss)
	require.Equal(t, w1.Value, w3.Value)
	require.Greater(t, w3.Loss, w1.Loss, "last withdrawer pays the entry slippage too")
}

func TestScenarioC_DebtRatioSwings(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	amount := int64(100_000 * usdc)
	f.deposit(user1, amount)
	f.harvest()
	require.Equal(t, amount, f.v.TotalDebt())

	for _, step := range []struct {
		ratio    int64
		wantDebt int64
	}{
		{5_000, amount / 2},
		{10_000, amount},
		{5_000, amount / 2},
		{0, 0},
	} {
		require.NoError(t, f.v.UpdateStrategyDebtRatio(f.s.ID(), step.ratio))
		f.harvest()
		require.InDelta(t, step.wantDebt, f.v.TotalDebt(), slippageTolerance(amount), "ratio %d", step.ratio)
		require.InDelta(t, step.wantDebt, f.s.EstimatedTotalAssets(), slippageTolerance(amount), "ratio %d", step.ratio)
	}
}

// ============================================================================
// Test: Deposit throttling
// ============================================================================

func TestTend_RespectsSingleDepositAndPeriod(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{
		MaxSingleDeposit: 30_000 * usdc,
		MinDepositPeriod: 30 * time.Minute,
	})
	amount := int64(100_000 * usdc)
	f.deposit(user1, amount)
	f.harvest()

	require.Equal(t, fpmath.BpsOf(30_000*usdc, 9_995), f.venue.Staked(f.s.ID()))
	require.False(t, f.s.TendTrigger(0), "deposit period has not elapsed")

	tends := 0
	for {
		f.clock.Advance(30*time.Minute + time.Second)
		if !f.s.TendTrigger(0) {
			break
		}
		require.NoError(t, f.v.Tend(f.s.ID()))
		tends++
	}
	require.Equal(t, 3, tends)
	require.InDelta(t, amount, f.s.EstimatedTotalAssets(), slippageTolerance(amount))
	require.InDelta(t, amount, f.venue.Staked(f.s.ID()), slippageTolerance(amount))
}

// ============================================================================
// Test: Triggers
// ============================================================================

func TestHarvestTrigger(t *testing.T) {
	f := newFixture(t, 5_000, strategy.PoolConfig{})
	f.deposit(user1, 100_000*usdc)
	require.True(t, f.s.HarvestTrigger(0), "credit is waiting")

	f.harvest()
	// entry slippage leaves assets below debt
	require.True(t, f.s.HarvestTrigger(0))

	f.airdropAPY(100_000*usdc, 2_000, 15*24*time.Hour)
	require.True(t, f.s.HarvestTrigger(0))
	require.False(t, f.s.TendTrigger(0))
}

// ============================================================================
// Test: Emergency exit
// ============================================================================

func TestEmergencyExit_ReturnsEverything(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	amount := int64(100_000 * usdc)
	f.deposit(user1, amount)
	f.harvest()

	f.s.SetEmergencyExit()
	require.True(t, f.s.HarvestTrigger(math.MaxInt64))
	res := f.harvest()

	require.True(t, res.EmergencyExit)
	require.Zero(t, f.v.TotalDebt())
	require.Zero(t, f.s.EstimatedTotalAssets())
	require.InDelta(t, amount, f.v.TotalIdle(), slippageTolerance(amount))
	require.False(t, f.s.HarvestTrigger(0))
}

// ============================================================================
// Test: Migration
// ============================================================================

func TestMigrate_MovesStakeRewardsAndWant(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	f.deposit(user1, 100_000*usdc)
	f.harvest()
	f.airdropAPY(100_000*usdc, 2_000, 7*24*time.Hour)

	before := f.s.EstimatedTotalAssets()
	debt := f.v.TotalDebt()

	next, err := strategy.NewPoolStrategy(strategy.PoolConfig{ID: stratB}, f.venue, f.v)
	require.NoError(t, err)
	require.NoError(t, f.v.MigrateStrategy(f.s.ID(), next))

	require.Zero(t, f.s.EstimatedTotalAssets())
	require.Equal(t, before, next.EstimatedTotalAssets())
	require.Equal(t, debt, f.v.DebtOf(stratB))
	require.Equal(t, []uuid.UUID{stratB}, f.v.Queue())
}

func TestMigrate_RejectsForeignAdapter(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	otherVenue, err := strategy.NewVenue(strategy.DefaultVenueConfig(), f.book)
	require.NoError(t, err)
	next, err := strategy.NewPoolStrategy(strategy.PoolConfig{ID: stratB}, otherVenue, f.v)
	require.NoError(t, err)

	err = f.v.MigrateStrategy(f.s.ID(), next)
	require.ErrorIs(t, err, strategy.ErrIncompatibleMigration)
}

// ============================================================================
// Test: Sweep
// ============================================================================

func TestSweep_ProtectsReservedTokens(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	cfg := f.venue.Config()

	for _, asset := range []ledger.AssetID{cfg.Want, cfg.LP, cfg.Reward, f.v.ShareAsset()} {
		_, err := f.s.Sweep(asset, gov)
		require.ErrorIs(t, err, vault.ErrUnauthorized, "asset %s", asset)
	}

	usdt, _ := ledger.GetAssetID("USDT")
	require.NoError(t, f.book.Transfer(ledger.External(ledger.SubTypeExternalDeposits, usdt), ledger.StrategyWallet(f.s.ID(), usdt), 1_000*usdc, ledger.JournalTypeFund))
	swept, err := f.s.Sweep(usdt, gov)
	require.NoError(t, err)
	require.Equal(t, int64(1_000*usdc), swept)
	require.Equal(t, int64(1_000*usdc), f.book.Balance(ledger.HolderWallet(gov, usdt)))
}

// ============================================================================
// Test: Rollback
// ============================================================================

func TestHarvest_FailedHealthCheckRewindsRewardSale(t *testing.T) {
	f := newFixture(t, 10_000, strategy.PoolConfig{})
	f.deposit(user1, 100_000*usdc)
	f.harvest()
	require.NoError(t, f.v.SetStrategyHealthCheck(f.s.ID(), &vault.HealthCheck{ProfitLimitBps: 1, LossLimitBps: 100}))

	f.airdropAPY(100_000*usdc, 2_000, 30*24*time.Hour)
	pending := f.venue.Pending(f.s.ID())
	staked := f.venue.Staked(f.s.ID())
	state := f.s.State()

	f.clock.Advance(time.Hour)
	_, err := f.v.Harvest(f.s.ID())
	require.ErrorIs(t, err, vault.ErrHealthCheck)

	require.Equal(t, pending, f.venue.Pending(f.s.ID()))
	require.Equal(t, staked, f.venue.Staked(f.s.ID()))
	require.Equal(t, state, f.s.State())
}

// ============================================================================
// Test: Venue
// ============================================================================

func TestVenue_AirdropProRata(t *testing.T) {
	f := newFixture(t, 7_500, strategy.PoolConfig{})
	other, err := strategy.NewPoolStrategy(strategy.PoolConfig{ID: stratB}, f.venue, f.v)
	require.NoError(t, err)
	require.NoError(t, f.v.AddStrategy(other, vault.StrategyParams{DebtRatio: 2_500, MaxDebtPerHarvest: math.MaxInt64}))

	f.deposit(user1, 100_000*usdc)
	f.harvest()
	_, err = f.v.Harvest(stratB)
	require.NoError(t, err)

	paid, err := f.venue.Airdrop(4_000)
	require.NoError(t, err)
	require.Equal(t, int64(4_000), paid)
	require.Equal(t, int64(3_000), f.venue.Pending(stratA))
	require.Equal(t, int64(1_000), f.venue.Pending(stratB))
}

func TestVenue_ConfigValidation(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())

	cfg := strategy.DefaultVenueConfig()
	cfg.SlippageInBps = fpmath.MaxBps
	_, err := strategy.NewVenue(cfg, book)
	require.Error(t, err)

	cfg = strategy.DefaultVenueConfig()
	cfg.LP = cfg.Want
	_, err = strategy.NewVenue(cfg, book)
	require.Error(t, err)
}
