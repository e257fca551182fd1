package event

import (
	"github.com/google/uuid"
)

// StrategyParam names a governance-tunable strategy term.
type StrategyParam string

const (
	StrategyParamDebtRatio         StrategyParam = "debt_ratio"
	StrategyParamMinDebtPerHarvest StrategyParam = "min_debt_per_harvest"
	StrategyParamMaxDebtPerHarvest StrategyParam = "max_debt_per_harvest"
	StrategyParamPerformanceFee    StrategyParam = "performance_fee"
)

// UpdateStrategy changes one strategy term.
type UpdateStrategy struct {
	Meta
	Strategy uuid.UUID     `json:"strategy_id"`
	Param    StrategyParam `json:"param"`
	Value    int64         `json:"value"`
}

func (u *UpdateStrategy) EventType() EventType {
	return EventTypeUpdateStrategy
}

func (u *UpdateStrategy) Stream() Stream {
	return StreamGovernance
}

func (u *UpdateStrategy) StrategyID() *uuid.UUID {
	return strategyRef(u.Strategy)
}

// VaultParam names a governance-tunable vault setting.
type VaultParam string

const (
	VaultParamDepositLimit       VaultParam = "deposit_limit"
	VaultParamManagementFee      VaultParam = "management_fee"
	VaultParamPerformanceFee     VaultParam = "performance_fee"
	VaultParamProfitUnlockPeriod VaultParam = "profit_unlock_seconds"
)

// UpdateVault changes one vault setting.
type UpdateVault struct {
	Meta
	Param VaultParam `json:"param"`
	Value int64      `json:"value"`
}

func (u *UpdateVault) EventType() EventType {
	return EventTypeUpdateVault
}

func (u *UpdateVault) Stream() Stream {
	return StreamGovernance
}

func (u *UpdateVault) StrategyID() *uuid.UUID {
	return nil
}
