package vault

import (
	"time"

	"github.com/google/uuid"
)

// Return is what an adapter realizes during harvest.
type Return struct {
	Gain        int64 `json:"gain"`
	Loss        int64 `json:"loss"`
	DebtPayment int64 `json:"debt_payment"`
}

// StrategyAdapter is the contract a strategy plugin offers the vault.
//
// Adapters keep their funds in the shared book under their own strategy and
// venue accounts. They never touch vault state: the vault moves want between
// its idle account and the adapter's wallet based on the amounts the adapter
// returns.
type StrategyAdapter interface {
	ID() uuid.UUID

	// EstimatedTotalAssets values everything the adapter holds, in want.
	EstimatedTotalAssets() int64

	// PrepareReturn realizes P&L and frees up to debtOutstanding into the
	// adapter's wallet.
	PrepareReturn(debtOutstanding int64) (Return, error)

	// AdjustPosition invests loose want beyond debtOutstanding.
	AdjustPosition(debtOutstanding int64) error

	// LiquidatePosition frees amountNeeded into the wallet. liquidated+loss
	// never exceeds amountNeeded.
	LiquidatePosition(amountNeeded int64) (liquidated, loss int64, err error)

	// LiquidateAllPositions exits every position and returns the wallet's want.
	LiquidateAllPositions() (int64, error)

	// Migrate hands every position, reward and loose token to next.
	Migrate(next StrategyAdapter) error

	// Tend rebalances inside the adapter without going through the vault.
	Tend() error

	HarvestTrigger(callCost int64) bool
	TendTrigger(callCost int64) bool

	SetEmergencyExit()
	EmergencyExit() bool
}

// Rewinder is implemented by adapters with local state outside the book, so
// a failed vault operation can restore them along with the ledger.
type Rewinder interface {
	Checkpoint() any
	Rewind(checkpoint any)
}

// Clock supplies versioned time. The core moves it to each command's
// timestamp; nothing in the vault reads the wall clock.
type Clock interface {
	Now() time.Time
}

// ManualClock is a Clock that only moves when told to, and never backwards.
type ManualClock struct {
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	return c.now
}

// Set moves the clock to t if t is later than the current time.
func (c *ManualClock) Set(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}

// Reset puts the clock back to t, earlier or not. Only for undoing a Set
// whose command was rejected.
func (c *ManualClock) Reset(t time.Time) {
	c.now = t
}

func (c *ManualClock) Advance(d time.Duration) {
	if d > 0 {
		c.now = c.now.Add(d)
	}
}
