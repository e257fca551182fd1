package vault

import (
	"time"

	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// StrategyStatus is a strategy's lifecycle position.
type StrategyStatus int

const (
	StatusActive   StrategyStatus = iota // in queue, debtRatio > 0
	StatusRetiring                       // in queue, debtRatio == 0
	StatusRemoved
	StatusMigrated
)

func (s StrategyStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRetiring:
		return "retiring"
	case StatusRemoved:
		return "removed"
	case StatusMigrated:
		return "migrated"
	default:
		return "unknown"
	}
}

// MaxStrategistFeeBps caps the strategist's share of gains.
const MaxStrategistFeeBps int64 = fpmath.MaxBps / 2

// StrategyParams are the governance-set terms for one strategy.
type StrategyParams struct {
	DebtRatio         int64     `json:"debt_ratio" yaml:"debt_ratio"`
	MinDebtPerHarvest int64     `json:"min_debt_per_harvest" yaml:"min_debt_per_harvest"`
	MaxDebtPerHarvest int64     `json:"max_debt_per_harvest" yaml:"max_debt_per_harvest"`
	PerformanceFeeBps int64     `json:"performance_fee_bps" yaml:"performance_fee_bps"`
	Strategist        uuid.UUID `json:"strategist" yaml:"strategist"` // receives strategist fee shares
}

func (p StrategyParams) validate() error {
	switch {
	case p.DebtRatio < 0 || p.DebtRatio > fpmath.MaxBps:
		return ErrInvalidParams
	case p.MinDebtPerHarvest < 0 || p.MaxDebtPerHarvest < 0:
		return ErrInvalidParams
	case p.MinDebtPerHarvest > p.MaxDebtPerHarvest:
		return ErrInvalidParams
	case p.PerformanceFeeBps < 0 || p.PerformanceFeeBps > MaxStrategistFeeBps:
		return ErrInvalidParams
	}
	return nil
}

// StrategyAccount is the vault-side record of one adapter.
type StrategyAccount struct {
	ID uuid.UUID `json:"id"`
	StrategyParams

	TotalDebt int64 `json:"total_debt"`
	TotalGain int64 `json:"total_gain"`
	TotalLoss int64 `json:"total_loss"`

	Activation time.Time `json:"activation"`
	LastReport time.Time `json:"last_report"`

	Removed    bool      `json:"removed,omitempty"`
	MigratedTo uuid.UUID `json:"migrated_to,omitempty"`

	HealthCheck     *HealthCheck `json:"health_check,omitempty"`
	SkipHealthCheck bool         `json:"skip_health_check,omitempty"`
}

// Status derives the lifecycle state from the record.
func (a *StrategyAccount) Status() StrategyStatus {
	switch {
	case a.MigratedTo != uuid.Nil:
		return StatusMigrated
	case a.Removed:
		return StatusRemoved
	case a.DebtRatio > 0:
		return StatusActive
	default:
		return StatusRetiring
	}
}

// InQueue reports whether the strategy still takes part in allocation.
func (a *StrategyAccount) InQueue() bool {
	s := a.Status()
	return s == StatusActive || s == StatusRetiring
}

func (a *StrategyAccount) clone() *StrategyAccount {
	c := *a
	if a.HealthCheck != nil {
		hc := *a.HealthCheck
		c.HealthCheck = &hc
	}
	return &c
}

// VaultView is the vault-wide data the pure credit functions need.
type VaultView struct {
	TotalAssets       int64
	TotalDebt         int64
	TotalIdle         int64
	DebtRatio         int64
	EmergencyShutdown bool
}

// DebtLimit is debtRatio/10000 of the vault's total assets.
func (a *StrategyAccount) DebtLimit(v VaultView) int64 {
	return fpmath.BpsOf(v.TotalAssets, a.DebtRatio)
}

// CreditAvailable is how much more the vault would lend this strategy now.
func (a *StrategyAccount) CreditAvailable(v VaultView) int64 {
	if v.EmergencyShutdown {
		return 0
	}

	vaultDebtLimit := fpmath.BpsOf(v.TotalAssets, v.DebtRatio)
	strategyDebtLimit := a.DebtLimit(v)
	if strategyDebtLimit <= a.TotalDebt || vaultDebtLimit <= v.TotalDebt {
		return 0
	}

	available := strategyDebtLimit - a.TotalDebt
	available = fpmath.Min(available, vaultDebtLimit-v.TotalDebt)
	available = fpmath.Min(available, v.TotalIdle)

	// below the minimum it is not worth a transfer
	if available < a.MinDebtPerHarvest {
		return 0
	}
	return fpmath.Min(available, a.MaxDebtPerHarvest)
}

// DebtOutstanding is how much the vault wants back from this strategy.
func (a *StrategyAccount) DebtOutstanding(v VaultView) int64 {
	if v.DebtRatio == 0 || v.EmergencyShutdown {
		return a.TotalDebt
	}
	limit := a.DebtLimit(v)
	return fpmath.ClampNonNegative(a.TotalDebt - limit)
}
