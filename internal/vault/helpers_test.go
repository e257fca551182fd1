package vault_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")
	bob   = uuid.MustParse("00000000-0000-0000-0000-000000000b0b")
	gov   = uuid.MustParse("00000000-0000-0000-0000-000000000900")
	treas = uuid.MustParse("00000000-0000-0000-0000-00000000feed")
	strat = uuid.MustParse("00000000-0000-0000-0000-0000000057a7")
)

type harness struct {
	t     *testing.T
	book  *ledger.Book
	clock *vault.ManualClock
	v     *vault.Vault
	want  ledger.AssetID
}

type harnessOpt func(*vault.Config)

func withFees(mgmt, perf int64) harnessOpt {
	return func(c *vault.Config) {
		c.ManagementFeeBps = mgmt
		c.PerformanceFeeBps = perf
	}
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	want, ok := ledger.GetAssetID("USDC")
	require.True(t, ok)

	book := ledger.NewBook(ledger.NewBalanceTracker())
	book.Begin("test", 1, t0.UnixMicro())
	clock := vault.NewManualClock(t0)

	cfg := vault.Config{
		ID:           uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		Want:         want,
		DepositLimit: math.MaxInt64,
		FeeRecipient: treas,
	}
	for _, o := range opts {
		o(&cfg)
	}
	v, err := vault.New(cfg, book, clock)
	require.NoError(t, err)

	return &harness{t: t, book: book, clock: clock, v: v, want: want}
}

func (h *harness) fund(holder uuid.UUID, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.book.Transfer(
		ledger.External(ledger.SubTypeExternalDeposits, h.want),
		ledger.HolderWallet(holder, h.want),
		amount, ledger.JournalTypeFund))
}

func (h *harness) deposit(holder uuid.UUID, amount int64) int64 {
	h.t.Helper()
	h.fund(holder, amount)
	shares, err := h.v.Deposit(holder, amount)
	require.NoError(h.t, err)
	return shares
}

func (h *harness) wallet(holder uuid.UUID) int64 {
	return h.book.Balance(ledger.HolderWallet(holder, h.want))
}

func (h *harness) addFake(id uuid.UUID, ratio int64) *fakeAdapter {
	h.t.Helper()
	f := newFake(id, h)
	require.NoError(h.t, h.v.AddStrategy(f, vault.StrategyParams{
		DebtRatio:         ratio,
		MaxDebtPerHarvest: math.MaxInt64,
	}))
	return f
}

func (h *harness) harvest(id uuid.UUID) vault.ReportResult {
	h.t.Helper()
	res, err := h.v.Harvest(id)
	require.NoError(h.t, err)
	return res
}

// fakeAdapter keeps its invested funds in a venue position account of want.
type fakeAdapter struct {
	id   uuid.UUID
	book *ledger.Book
	want ledger.AssetID
	v    *vault.Vault

	haircutBps   int64 // lost on every liquidation
	liquidityCap int64 // max freed per liquidation, 0 for unlimited

	prepareErr error
	adjustErr  error
	migrateErr error

	st fakeState
}

type fakeState struct {
	exit  bool
	tends int
}

func newFake(id uuid.UUID, h *harness) *fakeAdapter {
	return &fakeAdapter{id: id, book: h.book, want: h.want, v: h.v}
}

func (f *fakeAdapter) walletKey() ledger.AccountKey { return ledger.StrategyWallet(f.id, f.want) }
func (f *fakeAdapter) positionKey() ledger.AccountKey {
	return ledger.VenueAccount(f.id, ledger.SubTypePosition, f.want)
}

func (f *fakeAdapter) wallet() int64   { return f.book.Balance(f.walletKey()) }
func (f *fakeAdapter) position() int64 { return f.book.Balance(f.positionKey()) }

// profit grows the position from outside.
func (f *fakeAdapter) profit(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.book.Transfer(ledger.External(ledger.SubTypeExternalRewards, f.want), f.positionKey(), amount, ledger.JournalTypeReward))
}

// lose burns part of the position.
func (f *fakeAdapter) lose(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.book.Transfer(f.positionKey(), ledger.External(ledger.SubTypeExternalSlippage, f.want), amount, ledger.JournalTypeSlippage))
}

func (f *fakeAdapter) free(n int64) (int64, error) {
	bal := f.wallet()
	if bal >= n {
		return 0, nil
	}
	move := fpmath.Min(n-bal, f.position())
	if f.liquidityCap > 0 {
		move = fpmath.Min(move, f.liquidityCap)
	}
	haircut := fpmath.BpsOf(move, f.haircutBps)
	if err := f.book.Transfer(f.positionKey(), f.walletKey(), move-haircut, ledger.JournalTypeDivest); err != nil {
		return 0, err
	}
	if err := f.book.Transfer(f.positionKey(), ledger.External(ledger.SubTypeExternalSlippage, f.want), haircut, ledger.JournalTypeSlippage); err != nil {
		return 0, err
	}
	return haircut, nil
}

func (f *fakeAdapter) ID() uuid.UUID { return f.id }

func (f *fakeAdapter) EstimatedTotalAssets() int64 { return f.wallet() + f.position() }

func (f *fakeAdapter) PrepareReturn(out int64) (vault.Return, error) {
	if f.prepareErr != nil {
		return vault.Return{}, f.prepareErr
	}
	debt := f.v.DebtOf(f.id)
	total := f.EstimatedTotalAssets()
	if total < debt {
		if _, err := f.free(out); err != nil {
			return vault.Return{}, err
		}
		return vault.Return{Loss: debt - total, DebtPayment: fpmath.Min(f.wallet(), out)}, nil
	}
	profit := total - debt
	if _, err := f.free(profit + out); err != nil {
		return vault.Return{}, err
	}
	bal := f.wallet()
	if bal <= profit {
		return vault.Return{Gain: bal}, nil
	}
	return vault.Return{Gain: profit, DebtPayment: fpmath.Min(bal-profit, out)}, nil
}

func (f *fakeAdapter) AdjustPosition(out int64) error {
	if f.st.exit {
		return nil
	}
	// debit before failing so rollback has something to undo
	if bal := f.wallet(); bal > out {
		if err := f.book.Transfer(f.walletKey(), f.positionKey(), bal-out, ledger.JournalTypeInvest); err != nil {
			return err
		}
	}
	return f.adjustErr
}

func (f *fakeAdapter) LiquidatePosition(n int64) (int64, int64, error) {
	loss, err := f.free(n)
	if err != nil {
		return 0, 0, err
	}
	return fpmath.Min(f.wallet(), n), loss, nil
}

func (f *fakeAdapter) LiquidateAllPositions() (int64, error) {
	if err := f.book.Transfer(f.positionKey(), f.walletKey(), f.position(), ledger.JournalTypeDivest); err != nil {
		return 0, err
	}
	return f.wallet(), nil
}

func (f *fakeAdapter) Migrate(next vault.StrategyAdapter) error {
	if f.migrateErr != nil {
		return f.migrateErr
	}
	n, ok := next.(*fakeAdapter)
	if !ok {
		return errors.New("fake: incompatible target")
	}
	if err := f.book.Transfer(f.positionKey(), n.positionKey(), f.position(), ledger.JournalTypeMigration); err != nil {
		return err
	}
	return f.book.Transfer(f.walletKey(), n.walletKey(), f.wallet(), ledger.JournalTypeMigration)
}

func (f *fakeAdapter) Tend() error {
	f.st.tends++
	return nil
}

func (f *fakeAdapter) HarvestTrigger(int64) bool { return false }
func (f *fakeAdapter) TendTrigger(int64) bool    { return false }
func (f *fakeAdapter) SetEmergencyExit()         { f.st.exit = true }
func (f *fakeAdapter) EmergencyExit() bool       { return f.st.exit }

func (f *fakeAdapter) Checkpoint() any { return f.st }
func (f *fakeAdapter) Rewind(cp any)   { f.st = cp.(fakeState) }

var errBoom = errors.New("boom")
