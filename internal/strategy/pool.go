package strategy

import (
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

var ErrIncompatibleMigration = errors.New("strategy: migration target is not a pool strategy on the same venue")

// Lender is the vault-side view a strategy needs.
type Lender interface {
	DebtOf(id uuid.UUID) int64
	CreditAvailable(id uuid.UUID) int64
	ShareAsset() ledger.AssetID
	Now() time.Time
}

// PoolConfig holds a PoolStrategy's tunables.
type PoolConfig struct {
	ID               uuid.UUID
	MaxSingleDeposit int64         `yaml:"max_single_deposit"`
	MinDepositPeriod time.Duration `yaml:"min_deposit_period"`
}

// DefaultMaxSingleDeposit is effectively unbounded.
const DefaultMaxSingleDeposit int64 = 1 << 62

// PoolState is the strategy's local state outside the book.
type PoolState struct {
	LastDeposit   time.Time `json:"last_deposit"`
	EmergencyExit bool      `json:"emergency_exit"`
}

// PoolStrategy deposits want single-sided into a Venue, stakes the LP and
// sells reward tokens for want at harvest.
type PoolStrategy struct {
	id               uuid.UUID
	venue            *Venue
	lender           Lender
	maxSingleDeposit int64
	minDepositPeriod time.Duration

	st PoolState
}

var (
	_ vault.StrategyAdapter = (*PoolStrategy)(nil)
	_ vault.Rewinder        = (*PoolStrategy)(nil)
)

// NewPoolStrategy creates a strategy on venue lending from lender.
func NewPoolStrategy(cfg PoolConfig, venue *Venue, lender Lender) (*PoolStrategy, error) {
	if cfg.ID == uuid.Nil {
		return nil, fmt.Errorf("strategy: id is required")
	}
	if cfg.MaxSingleDeposit <= 0 {
		cfg.MaxSingleDeposit = DefaultMaxSingleDeposit
	}
	if cfg.MinDepositPeriod < 0 {
		return nil, fmt.Errorf("strategy: negative min deposit period")
	}
	venue.register(cfg.ID)
	return &PoolStrategy{
		id:               cfg.ID,
		venue:            venue,
		lender:           lender,
		maxSingleDeposit: cfg.MaxSingleDeposit,
		minDepositPeriod: cfg.MinDepositPeriod,
	}, nil
}

func (s *PoolStrategy) ID() uuid.UUID { return s.id }

func (s *PoolStrategy) want() ledger.AssetID { return s.venue.cfg.Want }

func (s *PoolStrategy) wantBalance() int64 {
	return s.venue.book.Balance(ledger.StrategyWallet(s.id, s.want()))
}

func (s *PoolStrategy) rewardBalance() int64 {
	return s.venue.book.Balance(ledger.StrategyWallet(s.id, s.venue.cfg.Reward)) + s.venue.Pending(s.id)
}

// EstimatedTotalAssets values staked LP at par plus loose want and unsold
// rewards at the venue price.
func (s *PoolStrategy) EstimatedTotalAssets() int64 {
	return s.wantBalance() + s.venue.Staked(s.id) + s.venue.RewardValue(s.rewardBalance())
}

// --- Harvest ---

// PrepareReturn sells rewards, measures P&L against the vault's debt and
// frees profit + debtOutstanding into the wallet.
func (s *PoolStrategy) PrepareReturn(debtOutstanding int64) (vault.Return, error) {
	if err := s.sellRewards(); err != nil {
		return vault.Return{}, err
	}

	var ret vault.Return
	debt := s.lender.DebtOf(s.id)
	total := s.EstimatedTotalAssets()

	if total < debt {
		ret.Loss = debt - total
		if _, err := s.freeWant(debtOutstanding); err != nil {
			return vault.Return{}, err
		}
		ret.DebtPayment = fpmath.Min(s.wantBalance(), debtOutstanding)
		return ret, nil
	}

	profit := total - debt
	toFree := profit + debtOutstanding
	if _, err := s.freeWant(toFree); err != nil {
		return vault.Return{}, err
	}

	bal := s.wantBalance()
	switch {
	case bal >= toFree:
		ret.Gain = profit
		ret.DebtPayment = debtOutstanding
	case bal <= profit:
		ret.Gain = bal
	default:
		ret.Gain = profit
		ret.DebtPayment = fpmath.Min(bal-profit, debtOutstanding)
	}
	return ret, nil
}

// AdjustPosition invests loose want beyond what the vault asked back, up to
// the single-deposit cap.
func (s *PoolStrategy) AdjustPosition(debtOutstanding int64) error {
	if s.st.EmergencyExit {
		return nil
	}
	bal := s.wantBalance()
	if bal <= debtOutstanding {
		return nil
	}
	return s.invest(fpmath.Min(bal-debtOutstanding, s.maxSingleDeposit))
}

// Tend invests loose want once the deposit throttle has passed.
func (s *PoolStrategy) Tend() error {
	if s.st.EmergencyExit || !s.depositWindowOpen() {
		return nil
	}
	return s.invest(fpmath.Min(s.wantBalance(), s.maxSingleDeposit))
}

func (s *PoolStrategy) invest(amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := s.venue.deposit(s.id, amount); err != nil {
		return fmt.Errorf("pool deposit: %w", err)
	}
	s.st.LastDeposit = s.lender.Now()
	return nil
}

func (s *PoolStrategy) depositWindowOpen() bool {
	return !s.lender.Now().Before(s.st.LastDeposit.Add(s.minDepositPeriod))
}

// --- Liquidation ---

// LiquidatePosition frees amountNeeded, reporting any shortfall as loss.
func (s *PoolStrategy) LiquidatePosition(amountNeeded int64) (int64, int64, error) {
	if amountNeeded <= 0 {
		return 0, 0, nil
	}
	if _, err := s.freeWant(amountNeeded); err != nil {
		return 0, 0, err
	}
	liquidated := fpmath.Min(s.wantBalance(), amountNeeded)
	return liquidated, amountNeeded - liquidated, nil
}

// LiquidateAllPositions sells rewards and exits the pool.
func (s *PoolStrategy) LiquidateAllPositions() (int64, error) {
	if err := s.sellRewards(); err != nil {
		return 0, err
	}
	if _, err := s.venue.withdraw(s.id, s.venue.Staked(s.id)); err != nil {
		return 0, fmt.Errorf("pool exit: %w", err)
	}
	return s.wantBalance(), nil
}

// freeWant redeems LP at par until the wallet holds amount or the stake is
// exhausted.
func (s *PoolStrategy) freeWant(amount int64) (int64, error) {
	bal := s.wantBalance()
	if bal >= amount {
		return 0, nil
	}
	lp := fpmath.Min(amount-bal, s.venue.Staked(s.id))
	out, err := s.venue.withdraw(s.id, lp)
	if err != nil {
		return 0, fmt.Errorf("pool withdraw: %w", err)
	}
	return out, nil
}

func (s *PoolStrategy) sellRewards() error {
	if _, err := s.venue.claim(s.id); err != nil {
		return fmt.Errorf("claim rewards: %w", err)
	}
	rewards := s.venue.book.Balance(ledger.StrategyWallet(s.id, s.venue.cfg.Reward))
	if _, err := s.venue.swap(s.id, rewards); err != nil {
		return fmt.Errorf("swap rewards: %w", err)
	}
	return nil
}

// --- Migration ---

// Migrate moves the stake, pending and loose rewards, and loose want to next.
func (s *PoolStrategy) Migrate(next vault.StrategyAdapter) error {
	n, ok := next.(*PoolStrategy)
	if !ok || n.venue != s.venue || n.id == s.id {
		return ErrIncompatibleMigration
	}
	book := s.venue.book
	if err := s.venue.moveStake(s.id, n.id); err != nil {
		return err
	}
	for _, asset := range []ledger.AssetID{s.venue.cfg.Reward, s.want()} {
		from := ledger.StrategyWallet(s.id, asset)
		if err := book.Transfer(from, ledger.StrategyWallet(n.id, asset), book.Balance(from), ledger.JournalTypeMigration); err != nil {
			return err
		}
	}
	n.st.LastDeposit = s.st.LastDeposit
	return nil
}

// Sweep sends a stray token held by the strategy to recipient. Want, vault
// shares and the venue's LP and reward tokens are protected.
func (s *PoolStrategy) Sweep(asset ledger.AssetID, recipient uuid.UUID) (int64, error) {
	switch asset {
	case s.want(), s.lender.ShareAsset(), s.venue.cfg.LP, s.venue.cfg.Reward:
		return 0, fmt.Errorf("%w: %s is protected", vault.ErrUnauthorized, asset)
	}
	book := s.venue.book
	from := ledger.StrategyWallet(s.id, asset)
	amount := book.Balance(from)
	if err := book.Transfer(from, ledger.HolderWallet(recipient, asset), amount, ledger.JournalTypeSweep); err != nil {
		return 0, err
	}
	return amount, nil
}

// --- Triggers ---

// HarvestTrigger is true when exiting with funds, when assets fell below
// debt, when the vault has credit for us, or when rewards outweigh callCost.
func (s *PoolStrategy) HarvestTrigger(callCost int64) bool {
	total := s.EstimatedTotalAssets()
	if s.st.EmergencyExit {
		return total > 0
	}
	if total < s.lender.DebtOf(s.id) {
		return true
	}
	if s.lender.CreditAvailable(s.id) > callCost {
		return true
	}
	return s.venue.RewardValue(s.rewardBalance()) > callCost
}

// TendTrigger is true when loose want is worth depositing and the throttle
// allows it.
func (s *PoolStrategy) TendTrigger(callCost int64) bool {
	if s.st.EmergencyExit || !s.depositWindowOpen() {
		return false
	}
	bal := s.wantBalance()
	return bal > 0 && bal > callCost
}

func (s *PoolStrategy) SetEmergencyExit()   { s.st.EmergencyExit = true }
func (s *PoolStrategy) EmergencyExit() bool { return s.st.EmergencyExit }

// --- State ---

func (s *PoolStrategy) Checkpoint() any { return s.st }

func (s *PoolStrategy) Rewind(cp any) {
	if st, ok := cp.(PoolState); ok {
		s.st = st
	}
}

func (s *PoolStrategy) State() PoolState { return s.st }

func (s *PoolStrategy) Restore(st PoolState) { s.st = st }

func (s *PoolStrategy) Venue() *Venue { return s.venue }
