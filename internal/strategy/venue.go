package strategy

import (
	"fmt"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// VenueConfig describes a single-sided liquidity pool with a staking gauge.
type VenueConfig struct {
	Want   ledger.AssetID
	LP     ledger.AssetID
	Reward ledger.AssetID

	SlippageInBps  int64 `yaml:"slippage_in_bps"`
	SlippageOutBps int64 `yaml:"slippage_out_bps"`

	// RewardPrice is the want paid for one whole reward token.
	RewardPrice int64 `yaml:"reward_price"`
}

// DefaultVenueConfig mirrors the stable pool the strategy was first deployed
// against: 5 bps each way and QI priced at 0.80 USDC.
func DefaultVenueConfig() VenueConfig {
	want, _ := ledger.GetAssetID("USDC")
	lp, _ := ledger.GetAssetID("BPT")
	reward, _ := ledger.GetAssetID("QI")
	return VenueConfig{
		Want:           want,
		LP:             lp,
		Reward:         reward,
		SlippageInBps:  5,
		SlippageOutBps: 5,
		RewardPrice:    800_000,
	}
}

// Venue simulates the pool in the book. LP tokens are minted 1:1 against
// want net of entry slippage and redeem 1:1 net of exit slippage. Staked LP
// earns reward tokens through airdrops.
type Venue struct {
	cfg     VenueConfig
	book    *ledger.Book
	stakers []uuid.UUID
}

func NewVenue(cfg VenueConfig, book *ledger.Book) (*Venue, error) {
	if cfg.SlippageInBps < 0 || cfg.SlippageInBps >= fpmath.MaxBps ||
		cfg.SlippageOutBps < 0 || cfg.SlippageOutBps >= fpmath.MaxBps {
		return nil, fmt.Errorf("venue: slippage out of range (%d/%d)", cfg.SlippageInBps, cfg.SlippageOutBps)
	}
	if cfg.RewardPrice < 0 {
		return nil, fmt.Errorf("venue: negative reward price")
	}
	if cfg.Want == cfg.LP || cfg.Want == cfg.Reward || cfg.LP == cfg.Reward {
		return nil, fmt.Errorf("venue: want, lp and reward must be distinct assets")
	}
	return &Venue{cfg: cfg, book: book}, nil
}

func (v *Venue) Config() VenueConfig { return v.cfg }

// register adds a strategy to the airdrop set. Order is registration order.
func (v *Venue) register(id uuid.UUID) {
	for _, s := range v.stakers {
		if s == id {
			return
		}
	}
	v.stakers = append(v.stakers, id)
}

// Stakers returns the airdrop set in registration order.
func (v *Venue) Stakers() []uuid.UUID {
	return append([]uuid.UUID(nil), v.stakers...)
}

// RestoreStakers replaces the airdrop set, e.g. from a snapshot.
func (v *Venue) RestoreStakers(ids []uuid.UUID) {
	v.stakers = append(v.stakers[:0:0], ids...)
}

// --- Accounts ---

func (v *Venue) poolKey(asset ledger.AssetID) ledger.AccountKey {
	return ledger.External(ledger.SubTypeExternalDeposits, asset)
}

func (v *Venue) stakedKey(id uuid.UUID) ledger.AccountKey {
	return ledger.VenueAccount(id, ledger.SubTypeStaked, v.cfg.LP)
}

func (v *Venue) pendingKey(id uuid.UUID) ledger.AccountKey {
	return ledger.VenueAccount(id, ledger.SubTypePosition, v.cfg.Reward)
}

func (v *Venue) Staked(id uuid.UUID) int64 {
	return v.book.Balance(v.stakedKey(id))
}

func (v *Venue) Pending(id uuid.UUID) int64 {
	return v.book.Balance(v.pendingKey(id))
}

// --- Pool operations ---

// deposit moves amount of want from the strategy wallet into the pool and
// stakes the LP minted for it.
func (v *Venue) deposit(id uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	wallet := ledger.StrategyWallet(id, v.cfg.Want)
	slip := fpmath.BpsOf(amount, v.cfg.SlippageInBps)
	lp := amount - slip

	if err := v.book.Transfer(wallet, ledger.External(ledger.SubTypeExternalSlippage, v.cfg.Want), slip, ledger.JournalTypeSlippage); err != nil {
		return 0, err
	}
	if err := v.book.Transfer(wallet, v.poolKey(v.cfg.Want), lp, ledger.JournalTypeInvest); err != nil {
		return 0, err
	}
	if err := v.book.Transfer(v.poolKey(v.cfg.LP), v.stakedKey(id), lp, ledger.JournalTypeInvest); err != nil {
		return 0, err
	}
	return lp, nil
}

// withdraw unstakes and redeems lp, returning the want received.
func (v *Venue) withdraw(id uuid.UUID, lp int64) (int64, error) {
	if lp <= 0 {
		return 0, nil
	}
	if err := v.book.Transfer(v.stakedKey(id), v.poolKey(v.cfg.LP), lp, ledger.JournalTypeDivest); err != nil {
		return 0, err
	}
	slip := fpmath.BpsOf(lp, v.cfg.SlippageOutBps)
	out := lp - slip
	if err := v.book.Transfer(v.poolKey(v.cfg.Want), ledger.StrategyWallet(id, v.cfg.Want), out, ledger.JournalTypeDivest); err != nil {
		return 0, err
	}
	if err := v.book.Transfer(v.poolKey(v.cfg.Want), ledger.External(ledger.SubTypeExternalSlippage, v.cfg.Want), slip, ledger.JournalTypeSlippage); err != nil {
		return 0, err
	}
	return out, nil
}

// claim moves pending rewards into the strategy wallet.
func (v *Venue) claim(id uuid.UUID) (int64, error) {
	pending := v.Pending(id)
	if pending == 0 {
		return 0, nil
	}
	if err := v.book.Transfer(v.pendingKey(id), ledger.StrategyWallet(id, v.cfg.Reward), pending, ledger.JournalTypeReward); err != nil {
		return 0, err
	}
	return pending, nil
}

// RewardValue quotes rewards in want before swap slippage.
func (v *Venue) RewardValue(rewards int64) int64 {
	if rewards <= 0 || v.cfg.RewardPrice == 0 {
		return 0
	}
	unit := fpmath.NewDecimalConfig(v.rewardDecimals()).Scale
	value, err := fpmath.MulDivDown(rewards, v.cfg.RewardPrice, unit)
	if err != nil {
		return 0
	}
	return value
}

func (v *Venue) rewardDecimals() int {
	if a, ok := ledger.GetAsset(v.cfg.Reward); ok {
		return a.Decimals
	}
	return 0
}

// swap sells rewards from the strategy wallet for want.
func (v *Venue) swap(id uuid.UUID, rewards int64) (int64, error) {
	if rewards <= 0 {
		return 0, nil
	}
	value := v.RewardValue(rewards)
	out := value - fpmath.BpsOf(value, v.cfg.SlippageOutBps)

	if err := v.book.Transfer(ledger.StrategyWallet(id, v.cfg.Reward), ledger.External(ledger.SubTypeExternalSwap, v.cfg.Reward), rewards, ledger.JournalTypeSwap); err != nil {
		return 0, err
	}
	if err := v.book.Transfer(ledger.External(ledger.SubTypeExternalSwap, v.cfg.Want), ledger.StrategyWallet(id, v.cfg.Want), out, ledger.JournalTypeSwap); err != nil {
		return 0, err
	}
	return out, nil
}

// moveStake hands a staked position and its pending rewards to another
// strategy.
func (v *Venue) moveStake(from, to uuid.UUID) error {
	if err := v.book.Transfer(v.stakedKey(from), v.stakedKey(to), v.Staked(from), ledger.JournalTypeMigration); err != nil {
		return err
	}
	if err := v.book.Transfer(v.pendingKey(from), v.pendingKey(to), v.Pending(from), ledger.JournalTypeMigration); err != nil {
		return err
	}
	v.register(to)
	return nil
}

// --- Rewards ---

// Airdrop distributes reward tokens to stakers pro rata to their staked LP.
// Rounding dust stays undistributed.
func (v *Venue) Airdrop(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("venue: airdrop amount must be positive")
	}
	var total int64
	for _, id := range v.stakers {
		total += v.Staked(id)
	}
	if total == 0 {
		return 0, nil
	}

	var paid int64
	for _, id := range v.stakers {
		share, err := fpmath.MulDivDown(amount, v.Staked(id), total)
		if err != nil {
			return paid, err
		}
		if err := v.AirdropTo(id, share); err != nil {
			return paid, err
		}
		paid += share
	}
	return paid, nil
}

// AirdropTo credits rewards to one strategy's gauge.
func (v *Venue) AirdropTo(id uuid.UUID, amount int64) error {
	return v.book.Transfer(ledger.External(ledger.SubTypeExternalRewards, v.cfg.Reward), v.pendingKey(id), amount, ledger.JournalTypeReward)
}

// RewardsForAPY is the reward amount worth aprBps of principal over elapsed,
// at the venue's reward price.
func (v *Venue) RewardsForAPY(principal, aprBps int64, elapsedSeconds int64) (int64, error) {
	if v.cfg.RewardPrice == 0 {
		return 0, fmt.Errorf("venue: reward price is zero")
	}
	yearly, err := fpmath.MulDivDown(principal, aprBps, fpmath.MaxBps)
	if err != nil {
		return 0, err
	}
	value, err := fpmath.MulDivDown(yearly, elapsedSeconds, fpmath.SecondsPerYear)
	if err != nil {
		return 0, err
	}
	unit := fpmath.NewDecimalConfig(v.rewardDecimals()).Scale
	return fpmath.MulDivDown(value, unit, v.cfg.RewardPrice)
}
