package core

import (
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/strategy"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// DepositResult is the outcome of a Deposit command.
type DepositResult struct {
	Shares int64 `json:"shares"`
}

// SweepResult is the outcome of a Sweep command.
type SweepResult struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// AirdropResult is the outcome of a RewardAirdrop command.
type AirdropResult struct {
	Distributed int64 `json:"distributed"`
}

// dispatchEvent routes to type-specific handlers
func (c *DeterministicCore) dispatchEvent(evt event.Event) (any, error) {
	switch e := evt.(type) {
	case *event.FundWallet:
		return nil, c.handleFundWallet(e)
	case *event.Payout:
		return nil, c.handlePayout(e)
	case *event.Deposit:
		shares, err := c.vault.Deposit(e.Depositor, e.Amount)
		if err != nil {
			return nil, err
		}
		return DepositResult{Shares: shares}, nil
	case *event.Withdraw:
		return c.handleWithdraw(e)
	case *event.TransferShares:
		return nil, c.vault.TransferShares(e.From, e.To, e.Shares)
	case *event.Harvest:
		return c.vault.Harvest(e.Strategy)
	case *event.Tend:
		return nil, c.vault.Tend(e.Strategy)
	case *event.AddStrategy:
		return nil, c.handleAddStrategy(e)
	case *event.UpdateStrategy:
		return nil, c.handleUpdateStrategy(e)
	case *event.RevokeStrategy:
		return nil, c.vault.RevokeStrategy(e.Strategy)
	case *event.RemoveStrategy:
		if err := c.vault.RemoveStrategy(e.Strategy); err != nil {
			return nil, err
		}
		delete(c.pools, e.Strategy)
		return nil, nil
	case *event.MigrateStrategy:
		return nil, c.handleMigrateStrategy(e)
	case *event.StrategyEmergencyExit:
		return nil, c.handleEmergencyExit(e)
	case *event.SetHealthCheck:
		return nil, c.handleSetHealthCheck(e)
	case *event.SetEmergencyShutdown:
		c.vault.SetEmergencyShutdown(e.Active)
		return nil, nil
	case *event.UpdateVault:
		return nil, c.handleUpdateVault(e)
	case *event.SetFeeRecipient:
		return nil, c.vault.SetFeeRecipient(e.Recipient)
	case *event.Sweep:
		return c.handleSweep(e)
	case *event.RewardAirdrop:
		return c.handleRewardAirdrop(e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, evt)
	}
}

// --- Custody ---

func (c *DeterministicCore) handleFundWallet(e *event.FundWallet) error {
	if e.Holder == uuid.Nil || e.Amount <= 0 {
		return fmt.Errorf("%w: fund %d to %s", ErrInvalidCommand, e.Amount, e.Holder)
	}
	want := c.vault.Want()
	return c.book.Transfer(
		ledger.External(ledger.SubTypeExternalDeposits, want),
		ledger.HolderWallet(e.Holder, want),
		e.Amount,
		ledger.JournalTypeFund,
	)
}

func (c *DeterministicCore) handlePayout(e *event.Payout) error {
	if e.Holder == uuid.Nil || e.Amount <= 0 {
		return fmt.Errorf("%w: payout %d from %s", ErrInvalidCommand, e.Amount, e.Holder)
	}
	want := c.vault.Want()
	return c.book.Transfer(
		ledger.HolderWallet(e.Holder, want),
		ledger.External(ledger.SubTypeExternalWithdrawals, want),
		e.Amount,
		ledger.JournalTypePayout,
	)
}

func (c *DeterministicCore) handleWithdraw(e *event.Withdraw) (any, error) {
	if e.Owner == uuid.Nil {
		return nil, fmt.Errorf("%w: withdraw without owner", ErrInvalidCommand)
	}
	return c.vault.Withdraw(e.Owner, e.Shares, e.Payee(), e.MaxLossBps)
}

// --- Strategy lifecycle ---

// guard runs fn and restores the book and the venue's staker set if it
// fails. The vault rolls back its own state; this covers what a handler
// touches before or around the vault call.
func (c *DeterministicCore) guard(fn func() error) error {
	cp := c.book.Checkpoint()
	stakers := c.venue.Stakers()
	if err := fn(); err != nil {
		c.book.Rewind(cp)
		c.venue.RestoreStakers(stakers)
		return err
	}
	return nil
}

func (c *DeterministicCore) newPool(id uuid.UUID, terms event.PoolTerms) (*strategy.PoolStrategy, error) {
	if terms.MaxSingleDeposit < 0 || terms.MinDepositPeriod < 0 {
		return nil, fmt.Errorf("%w: pool terms %+v", ErrInvalidCommand, terms)
	}
	return strategy.NewPoolStrategy(strategy.PoolConfig{
		ID:               id,
		MaxSingleDeposit: terms.MaxSingleDeposit,
		MinDepositPeriod: terms.Period(),
	}, c.venue, c.vault)
}

func (c *DeterministicCore) handleAddStrategy(e *event.AddStrategy) error {
	if e.Strategy == uuid.Nil {
		return fmt.Errorf("%w: strategy id is required", ErrInvalidCommand)
	}
	if _, known := c.vault.Strategy(e.Strategy); known {
		return fmt.Errorf("%w: %s", vault.ErrDuplicateStrategy, e.Strategy)
	}
	return c.guard(func() error {
		pool, err := c.newPool(e.Strategy, e.Pool)
		if err != nil {
			return err
		}
		err = c.vault.AddStrategy(pool, vault.StrategyParams{
			DebtRatio:         e.DebtRatio,
			MinDebtPerHarvest: e.MinDebtPerHarvest,
			MaxDebtPerHarvest: e.MaxDebtPerHarvest,
			PerformanceFeeBps: e.PerformanceFeeBps,
			Strategist:        e.Strategist,
		})
		if err != nil {
			return err
		}
		c.pools[e.Strategy] = e.Pool
		return nil
	})
}

func (c *DeterministicCore) handleMigrateStrategy(e *event.MigrateStrategy) error {
	if e.NewStrategy == uuid.Nil || e.NewStrategy == e.Strategy {
		return fmt.Errorf("%w: migration target %s", ErrInvalidCommand, e.NewStrategy)
	}
	if _, known := c.vault.Strategy(e.NewStrategy); known {
		return fmt.Errorf("%w: %s", vault.ErrDuplicateStrategy, e.NewStrategy)
	}
	return c.guard(func() error {
		next, err := c.newPool(e.NewStrategy, e.Pool)
		if err != nil {
			return err
		}
		if err := c.vault.MigrateStrategy(e.Strategy, next); err != nil {
			return err
		}
		delete(c.pools, e.Strategy)
		c.pools[e.NewStrategy] = e.Pool
		return nil
	})
}

func (c *DeterministicCore) handleEmergencyExit(e *event.StrategyEmergencyExit) error {
	acct, ok := c.vault.Strategy(e.Strategy)
	if !ok || !acct.InQueue() {
		return fmt.Errorf("%w: %s", vault.ErrNotActive, e.Strategy)
	}
	ad, ok := c.vault.Adapter(e.Strategy)
	if !ok {
		return fmt.Errorf("%w: %s has no adapter", vault.ErrNotActive, e.Strategy)
	}
	ad.SetEmergencyExit()
	return nil
}

func (c *DeterministicCore) handleSetHealthCheck(e *event.SetHealthCheck) error {
	if e.SkipOnce {
		return c.vault.DisableHealthCheckOnce(e.Strategy)
	}
	if !e.Enabled {
		return c.vault.SetStrategyHealthCheck(e.Strategy, nil)
	}
	return c.vault.SetStrategyHealthCheck(e.Strategy, &vault.HealthCheck{
		ProfitLimitBps: e.ProfitLimitBps,
		LossLimitBps:   e.LossLimitBps,
	})
}

// --- Parameters ---

func (c *DeterministicCore) handleUpdateStrategy(e *event.UpdateStrategy) error {
	switch e.Param {
	case event.StrategyParamDebtRatio:
		return c.vault.UpdateStrategyDebtRatio(e.Strategy, e.Value)
	case event.StrategyParamMinDebtPerHarvest:
		return c.vault.UpdateStrategyMinDebtPerHarvest(e.Strategy, e.Value)
	case event.StrategyParamMaxDebtPerHarvest:
		return c.vault.UpdateStrategyMaxDebtPerHarvest(e.Strategy, e.Value)
	case event.StrategyParamPerformanceFee:
		return c.vault.UpdateStrategyPerformanceFee(e.Strategy, e.Value)
	default:
		return fmt.Errorf("%w: unknown strategy param %q", ErrInvalidCommand, e.Param)
	}
}

func (c *DeterministicCore) handleUpdateVault(e *event.UpdateVault) error {
	switch e.Param {
	case event.VaultParamDepositLimit:
		return c.vault.SetDepositLimit(e.Value)
	case event.VaultParamManagementFee:
		return c.vault.SetManagementFee(e.Value)
	case event.VaultParamPerformanceFee:
		return c.vault.SetPerformanceFee(e.Value)
	case event.VaultParamProfitUnlockPeriod:
		return c.vault.SetLockedProfitDegradation(time.Duration(e.Value) * time.Second)
	default:
		return fmt.Errorf("%w: unknown vault param %q", ErrInvalidCommand, e.Param)
	}
}

// --- Recovery ---

func (c *DeterministicCore) handleSweep(e *event.Sweep) (any, error) {
	asset, ok := ledger.GetAssetID(e.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %q", ErrInvalidCommand, e.Asset)
	}
	if e.Recipient == uuid.Nil {
		return nil, fmt.Errorf("%w: sweep recipient is required", ErrInvalidCommand)
	}

	if e.Strategy == uuid.Nil {
		amount, err := c.vault.Sweep(asset, e.Recipient)
		if err != nil {
			return nil, err
		}
		return SweepResult{Asset: e.Asset, Amount: amount}, nil
	}

	pool, err := c.pool(e.Strategy)
	if err != nil {
		return nil, err
	}
	amount, err := pool.Sweep(asset, e.Recipient)
	if err != nil {
		return nil, err
	}
	return SweepResult{Asset: e.Asset, Amount: amount}, nil
}

func (c *DeterministicCore) handleRewardAirdrop(e *event.RewardAirdrop) (any, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("%w: airdrop %d", ErrInvalidCommand, e.Amount)
	}
	var paid int64
	err := c.guard(func() error {
		if e.Strategy == uuid.Nil {
			var err error
			paid, err = c.venue.Airdrop(e.Amount)
			return err
		}
		if _, err := c.pool(e.Strategy); err != nil {
			return err
		}
		if err := c.venue.AirdropTo(e.Strategy, e.Amount); err != nil {
			return err
		}
		paid = e.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return AirdropResult{Distributed: paid}, nil
}

// pool returns the live pool strategy registered under id.
func (c *DeterministicCore) pool(id uuid.UUID) (*strategy.PoolStrategy, error) {
	ad, ok := c.vault.Adapter(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", vault.ErrNotActive, id)
	}
	p, ok := ad.(*strategy.PoolStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a pool strategy", vault.ErrNotActive, id)
	}
	return p, nil
}

// Pool exposes a live pool strategy for keepers and queries.
func (c *DeterministicCore) Pool(id uuid.UUID) (*strategy.PoolStrategy, bool) {
	p, err := c.pool(id)
	return p, err == nil
}

// RejectReason maps a handler error to a stable metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, vault.ErrEmergencyShutdown):
		return "emergency_shutdown"
	case errors.Is(err, vault.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, vault.ErrRatioOverflow):
		return "ratio_overflow"
	case errors.Is(err, vault.ErrDuplicateStrategy):
		return "duplicate_strategy"
	case errors.Is(err, vault.ErrNotActive):
		return "not_active"
	case errors.Is(err, vault.ErrLossExceeded):
		return "loss_exceeded"
	case errors.Is(err, vault.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, vault.ErrZeroShares):
		return "zero_shares"
	case errors.Is(err, vault.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, vault.ErrStrategyHasDebt):
		return "strategy_has_debt"
	case errors.Is(err, vault.ErrHealthCheck):
		return "health_check"
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidLossBound),
		errors.Is(err, vault.ErrInvalidParams),
		errors.Is(err, ErrInvalidCommand):
		return "invalid"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSequenceGap):
		return "gap"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown"
	default:
		return "error"
	}
}
