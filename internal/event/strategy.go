package event

import (
	"time"

	"github.com/google/uuid"
)

// PoolTerms configures the pool strategy adapter built for a new strategy.
type PoolTerms struct {
	MaxSingleDeposit int64 `json:"max_single_deposit"` // 0 = unbounded
	MinDepositPeriod int64 `json:"min_deposit_period_s"`
}

func (p PoolTerms) Period() time.Duration {
	return time.Duration(p.MinDepositPeriod) * time.Second
}

// AddStrategy registers a new pool strategy with the vault.
type AddStrategy struct {
	Meta
	Strategy          uuid.UUID `json:"strategy_id"`
	Strategist        uuid.UUID `json:"strategist"`
	DebtRatio         int64     `json:"debt_ratio"`
	MinDebtPerHarvest int64     `json:"min_debt_per_harvest"`
	MaxDebtPerHarvest int64     `json:"max_debt_per_harvest"`
	PerformanceFeeBps int64     `json:"performance_fee_bps"`
	Pool              PoolTerms `json:"pool"`
}

func (a *AddStrategy) EventType() EventType { return EventTypeAddStrategy }

func (a *AddStrategy) Stream() Stream { return StreamGovernance }

func (a *AddStrategy) StrategyID() *uuid.UUID { return strategyRef(a.Strategy) }

// RevokeStrategy sets a strategy's debt ratio to zero so it repays on its
// next harvest.
type RevokeStrategy struct {
	Meta
	Strategy uuid.UUID `json:"strategy_id"`
}

func (r *RevokeStrategy) EventType() EventType { return EventTypeRevokeStrategy }

func (r *RevokeStrategy) Stream() Stream { return StreamGovernance }

func (r *RevokeStrategy) StrategyID() *uuid.UUID { return strategyRef(r.Strategy) }

// RemoveStrategy drops a debt-free strategy from the withdrawal queue.
type RemoveStrategy struct {
	Meta
	Strategy uuid.UUID `json:"strategy_id"`
}

func (r *RemoveStrategy) EventType() EventType { return EventTypeRemoveStrategy }

func (r *RemoveStrategy) Stream() Stream { return StreamGovernance }

func (r *RemoveStrategy) StrategyID() *uuid.UUID { return strategyRef(r.Strategy) }

// MigrateStrategy replaces a strategy with a fresh pool strategy that takes
// over its positions, debt and queue slot.
type MigrateStrategy struct {
	Meta
	Strategy    uuid.UUID `json:"strategy_id"`
	NewStrategy uuid.UUID `json:"new_strategy_id"`
	Pool        PoolTerms `json:"pool"`
}

func (m *MigrateStrategy) EventType() EventType { return EventTypeMigrateStrategy }

func (m *MigrateStrategy) Stream() Stream { return StreamGovernance }

func (m *MigrateStrategy) StrategyID() *uuid.UUID { return strategyRef(m.Strategy) }

// StrategyEmergencyExit puts a strategy into exit mode: its next harvest
// liquidates everything and repays the vault.
type StrategyEmergencyExit struct {
	Meta
	Strategy uuid.UUID `json:"strategy_id"`
}

func (s *StrategyEmergencyExit) EventType() EventType { return EventTypeStrategyEmergencyExit }

func (s *StrategyEmergencyExit) Stream() Stream { return StreamGovernance }

func (s *StrategyEmergencyExit) StrategyID() *uuid.UUID { return strategyRef(s.Strategy) }

// SetHealthCheck installs, clears or skips once a strategy's harvest
// health check.
type SetHealthCheck struct {
	Meta
	Strategy       uuid.UUID `json:"strategy_id"`
	Enabled        bool      `json:"enabled"`
	ProfitLimitBps int64     `json:"profit_limit_bps"`
	LossLimitBps   int64     `json:"loss_limit_bps"`
	SkipOnce       bool      `json:"skip_once"`
}

func (s *SetHealthCheck) EventType() EventType { return EventTypeSetHealthCheck }

func (s *SetHealthCheck) Stream() Stream { return StreamGovernance }

func (s *SetHealthCheck) StrategyID() *uuid.UUID { return strategyRef(s.Strategy) }
