package vault

import (
	"fmt"
	"time"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// MaxStrategies bounds the withdrawal queue.
const MaxStrategies = 20

// Config holds the vault's initial governance settings.
type Config struct {
	ID                 uuid.UUID
	Want               ledger.AssetID
	DepositLimit       int64
	ManagementFeeBps   int64
	PerformanceFeeBps  int64
	FeeRecipient       uuid.UUID
	ProfitUnlockWindow time.Duration
}

// State is everything the vault owns besides book balances. It is plain data
// so it can be copied for rollback and serialized into snapshots.
type State struct {
	TotalSupply int64 `json:"total_supply"`
	TotalIdle   int64 `json:"total_idle"`
	TotalDebt   int64 `json:"total_debt"`
	DebtRatio   int64 `json:"debt_ratio"`

	Vesting ProfitVesting `json:"vesting"`

	DepositLimit      int64     `json:"deposit_limit"`
	ManagementFeeBps  int64     `json:"management_fee_bps"`
	PerformanceFeeBps int64     `json:"performance_fee_bps"`
	FeeRecipient      uuid.UUID `json:"fee_recipient"`
	EmergencyShutdown bool      `json:"emergency_shutdown"`

	Queue      []uuid.UUID                    `json:"queue"`
	Strategies map[uuid.UUID]*StrategyAccount `json:"strategies"`
}

func (s *State) clone() *State {
	c := *s
	c.Queue = append([]uuid.UUID(nil), s.Queue...)
	c.Strategies = make(map[uuid.UUID]*StrategyAccount, len(s.Strategies))
	for id, a := range s.Strategies {
		c.Strategies[id] = a.clone()
	}
	return &c
}

// Vault is the share ledger for one want asset. Every mutating method is
// atomic: on error the vault, its book and its rewindable adapters are left
// exactly as before the call. Not safe for concurrent use.
type Vault struct {
	id       uuid.UUID
	want     ledger.AssetID
	share    ledger.AssetID
	decimals int

	book     *ledger.Book
	clock    Clock
	adapters map[uuid.UUID]StrategyAdapter

	st *State
}

// New creates an empty vault over book.
func New(cfg Config, book *ledger.Book, clock Clock) (*Vault, error) {
	asset, ok := ledger.GetAsset(cfg.Want)
	if !ok {
		return nil, fmt.Errorf("vault: unknown want asset %d", cfg.Want)
	}
	if cfg.ID == uuid.Nil {
		return nil, fmt.Errorf("vault: id is required")
	}
	if cfg.ManagementFeeBps < 0 || cfg.ManagementFeeBps > fpmath.MaxBps {
		return nil, fmt.Errorf("vault: management fee %d out of range", cfg.ManagementFeeBps)
	}
	if cfg.PerformanceFeeBps < 0 || cfg.PerformanceFeeBps > MaxStrategistFeeBps {
		return nil, fmt.Errorf("vault: performance fee %d out of range", cfg.PerformanceFeeBps)
	}
	window := cfg.ProfitUnlockWindow
	if window <= 0 {
		window = DefaultProfitUnlock
	}

	return &Vault{
		id:       cfg.ID,
		want:     cfg.Want,
		share:    ledger.RegisterAsset("yv"+asset.Symbol, asset.Decimals),
		decimals: asset.Decimals,
		book:     book,
		clock:    clock,
		adapters: make(map[uuid.UUID]StrategyAdapter),
		st: &State{
			Vesting:           ProfitVesting{LastReport: clock.Now(), Window: window},
			DepositLimit:      cfg.DepositLimit,
			ManagementFeeBps:  cfg.ManagementFeeBps,
			PerformanceFeeBps: cfg.PerformanceFeeBps,
			FeeRecipient:      cfg.FeeRecipient,
			Strategies:        make(map[uuid.UUID]*StrategyAccount),
		},
	}, nil
}

func (v *Vault) ID() uuid.UUID              { return v.id }
func (v *Vault) Want() ledger.AssetID       { return v.want }
func (v *Vault) ShareAsset() ledger.AssetID { return v.share }
func (v *Vault) Decimals() int              { return v.decimals }
func (v *Vault) Book() *ledger.Book         { return v.book }
func (v *Vault) Now() time.Time             { return v.clock.Now() }

// --- Atomicity ---

// atomically runs fn and rolls everything back if it fails. extra lists
// adapters not yet registered that fn may mutate.
func (v *Vault) atomically(fn func() error, extra ...StrategyAdapter) error {
	saved := v.st.clone()
	savedAdapters := make(map[uuid.UUID]StrategyAdapter, len(v.adapters))
	for id, a := range v.adapters {
		savedAdapters[id] = a
	}
	cp := v.book.Checkpoint()

	type rewind struct {
		r  Rewinder
		cp any
	}
	var rewinds []rewind
	for _, a := range append(v.adapterList(), extra...) {
		if r, ok := a.(Rewinder); ok {
			rewinds = append(rewinds, rewind{r: r, cp: r.Checkpoint()})
		}
	}

	if err := fn(); err != nil {
		v.st = saved
		v.adapters = savedAdapters
		v.book.Rewind(cp)
		for i := len(rewinds) - 1; i >= 0; i-- {
			rewinds[i].r.Rewind(rewinds[i].cp)
		}
		return err
	}
	return nil
}

// adapterList returns adapters in queue order for deterministic iteration.
func (v *Vault) adapterList() []StrategyAdapter {
	out := make([]StrategyAdapter, 0, len(v.adapters))
	for _, id := range v.st.Queue {
		if a, ok := v.adapters[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// --- Accounting helpers ---

func (v *Vault) idleKey() ledger.AccountKey {
	return ledger.VaultIdle(v.id, v.want)
}

func (v *Vault) issuanceKey() ledger.AccountKey {
	return ledger.External(ledger.SubTypeShareIssuance, v.share)
}

func (v *Vault) totalAssets() int64 {
	return v.st.TotalIdle + v.st.TotalDebt
}

func (v *Vault) lockedProfit() int64 {
	return v.st.Vesting.LockedAt(v.clock.Now())
}

func (v *Vault) freeFunds() int64 {
	return fpmath.ClampNonNegative(v.totalAssets() - v.lockedProfit())
}

func (v *Vault) view() VaultView {
	return VaultView{
		TotalAssets:       v.totalAssets(),
		TotalDebt:         v.st.TotalDebt,
		TotalIdle:         v.st.TotalIdle,
		DebtRatio:         v.st.DebtRatio,
		EmergencyShutdown: v.st.EmergencyShutdown,
	}
}

// sharesForAmount converts want to shares at the current free-funds price,
// rounding down.
func (v *Vault) sharesForAmount(amount int64) (int64, error) {
	if v.st.TotalSupply == 0 {
		return amount, nil
	}
	free := v.freeFunds()
	if free == 0 {
		return 0, fmt.Errorf("%w: vault has no free funds", ErrZeroShares)
	}
	return fpmath.MulDivDown(amount, v.st.TotalSupply, free)
}

// shareValue converts shares to want at the current free-funds price,
// rounding down.
func (v *Vault) shareValue(shares int64) (int64, error) {
	if v.st.TotalSupply == 0 {
		return shares, nil
	}
	return fpmath.MulDivDown(shares, v.freeFunds(), v.st.TotalSupply)
}

func (v *Vault) mint(holder uuid.UUID, shares int64, jt ledger.JournalType) error {
	if shares <= 0 {
		return nil
	}
	if err := v.book.Transfer(v.issuanceKey(), ledger.HolderWallet(holder, v.share), shares, jt); err != nil {
		return err
	}
	v.st.TotalSupply += shares
	return nil
}

func (v *Vault) burn(holder uuid.UUID, shares int64) error {
	if err := v.book.Transfer(ledger.HolderWallet(holder, v.share), v.issuanceKey(), shares, ledger.JournalTypeShareBurn); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	}
	v.st.TotalSupply -= shares
	return nil
}

// --- Deposit ---

// Deposit moves amount of want from the depositor's wallet into the vault and
// mints shares at the current free-funds price.
func (v *Vault) Deposit(depositor uuid.UUID, amount int64) (int64, error) {
	var shares int64
	err := v.atomically(func() error {
		if v.st.EmergencyShutdown {
			return ErrEmergencyShutdown
		}
		if amount <= 0 {
			return fmt.Errorf("%w: deposit %d", ErrInvalidAmount, amount)
		}
		total := v.totalAssets()
		if amount > v.st.DepositLimit-total {
			return fmt.Errorf("%w: %d + %d > %d", ErrCapacityExceeded, total, amount, v.st.DepositLimit)
		}

		s, err := v.sharesForAmount(amount)
		if err != nil {
			return err
		}
		if s == 0 {
			return ErrZeroShares
		}

		if err := v.book.Transfer(ledger.HolderWallet(depositor, v.want), v.idleKey(), amount, ledger.JournalTypeDeposit); err != nil {
			return fmt.Errorf("deposit transfer: %w", err)
		}
		v.st.TotalIdle += amount
		shares = s
		return v.mint(depositor, s, ledger.JournalTypeShareMint)
	})
	if err != nil {
		return 0, err
	}
	return shares, nil
}

// TransferShares moves shares between holders.
func (v *Vault) TransferShares(from, to uuid.UUID, shares int64) error {
	return v.atomically(func() error {
		if shares <= 0 {
			return fmt.Errorf("%w: transfer %d shares", ErrInvalidAmount, shares)
		}
		if to == v.id {
			return fmt.Errorf("%w: cannot send shares to the vault", ErrInvalidAmount)
		}
		if err := v.book.Transfer(ledger.HolderWallet(from, v.share), ledger.HolderWallet(to, v.share), shares, ledger.JournalTypeShareTransfer); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientShares, err)
		}
		return nil
	})
}

// --- Views ---

func (v *Vault) TotalAssets() int64  { return v.totalAssets() }
func (v *Vault) TotalDebt() int64    { return v.st.TotalDebt }
func (v *Vault) TotalIdle() int64    { return v.st.TotalIdle }
func (v *Vault) TotalSupply() int64  { return v.st.TotalSupply }
func (v *Vault) DebtRatio() int64    { return v.st.DebtRatio }
func (v *Vault) LockedProfit() int64 { return v.lockedProfit() }
func (v *Vault) FreeFunds() int64    { return v.freeFunds() }
func (v *Vault) DepositLimit() int64 { return v.st.DepositLimit }
func (v *Vault) EmergencyShutdown() bool {
	return v.st.EmergencyShutdown
}

// PricePerShare is the value of one whole share (10^decimals units) in want.
func (v *Vault) PricePerShare() int64 {
	unit := fpmath.NewDecimalConfig(v.decimals).Scale
	value, err := v.shareValue(unit)
	if err != nil {
		return 0
	}
	return value
}

// BalanceOf returns a holder's shares.
func (v *Vault) BalanceOf(holder uuid.UUID) int64 {
	return v.book.Balance(ledger.HolderWallet(holder, v.share))
}

// Strategy returns a copy of the strategy's record.
func (v *Vault) Strategy(id uuid.UUID) (StrategyAccount, bool) {
	a, ok := v.st.Strategies[id]
	if !ok {
		return StrategyAccount{}, false
	}
	return *a.clone(), true
}

// DebtOf returns the strategy's current debt to the vault.
func (v *Vault) DebtOf(id uuid.UUID) int64 {
	if a, ok := v.st.Strategies[id]; ok {
		return a.TotalDebt
	}
	return 0
}

// Queue returns the withdrawal queue in priority order.
func (v *Vault) Queue() []uuid.UUID {
	return append([]uuid.UUID(nil), v.st.Queue...)
}

// Adapter returns the registered adapter for id.
func (v *Vault) Adapter(id uuid.UUID) (StrategyAdapter, bool) {
	a, ok := v.adapters[id]
	return a, ok
}

// CreditAvailable reports the credit the strategy would receive if it
// reported now.
func (v *Vault) CreditAvailable(id uuid.UUID) int64 {
	a, ok := v.st.Strategies[id]
	if !ok || !a.InQueue() {
		return 0
	}
	if ad, ok := v.adapters[id]; ok && ad.EmergencyExit() {
		return 0
	}
	return a.CreditAvailable(v.view())
}

// DebtOutstanding reports what the vault expects the strategy to repay.
func (v *Vault) DebtOutstanding(id uuid.UUID) int64 {
	a, ok := v.st.Strategies[id]
	if !ok {
		return 0
	}
	return v.debtOutstanding(a)
}

func (v *Vault) debtOutstanding(a *StrategyAccount) int64 {
	if ad, ok := v.adapters[a.ID]; ok && ad.EmergencyExit() {
		return a.TotalDebt
	}
	return a.DebtOutstanding(v.view())
}

// MaxAvailableShares estimates the shares redeemable right now, from idle
// funds plus every strategy's debt.
func (v *Vault) MaxAvailableShares() int64 {
	total, _ := v.sharesForAmount(v.st.TotalIdle)
	for _, id := range v.st.Queue {
		s, _ := v.sharesForAmount(v.st.Strategies[id].TotalDebt)
		total += s
	}
	return fpmath.Min(total, v.st.TotalSupply)
}

// Export returns a deep copy of the vault state.
func (v *Vault) Export() State {
	return *v.st.clone()
}

// Summary is a copy of the vault state with its derived figures.
type Summary struct {
	ID uuid.UUID `json:"id"`
	State
	TotalAssets   int64     `json:"total_assets"`
	PricePerShare int64     `json:"price_per_share"`
	LockedProfit  int64     `json:"locked_profit"`
	AsOf          time.Time `json:"as_of"`
}

// Summary snapshots the vault for readers outside the owning goroutine.
func (v *Vault) Summary() Summary {
	return Summary{
		ID:            v.id,
		State:         v.Export(),
		TotalAssets:   v.totalAssets(),
		PricePerShare: v.PricePerShare(),
		LockedProfit:  v.lockedProfit(),
		AsOf:          v.clock.Now(),
	}
}

// Restore replaces the vault state and adapter set, e.g. from a snapshot.
// adapters must contain every strategy in the queue.
func (v *Vault) Restore(s State, adapters map[uuid.UUID]StrategyAdapter) error {
	for _, id := range s.Queue {
		if _, ok := adapters[id]; !ok {
			return fmt.Errorf("vault: no adapter for queued strategy %s", id)
		}
	}
	restored := s.clone()
	if restored.Strategies == nil {
		restored.Strategies = make(map[uuid.UUID]*StrategyAccount)
	}
	v.st = restored
	v.adapters = make(map[uuid.UUID]StrategyAdapter, len(s.Queue))
	for _, id := range s.Queue {
		v.adapters[id] = adapters[id]
	}
	return nil
}
