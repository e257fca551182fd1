package vault

import (
	"fmt"

	fpmath "VaultLedger/internal/math"
)

// HealthCheck bounds what a single harvest may report relative to the
// strategy's debt.
type HealthCheck struct {
	ProfitLimitBps int64 `json:"profit_limit_bps" yaml:"profit_limit_bps"`
	LossLimitBps   int64 `json:"loss_limit_bps" yaml:"loss_limit_bps"`
}

// DefaultHealthCheck allows any profit and up to 1% loss per harvest.
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{ProfitLimitBps: fpmath.MaxBps, LossLimitBps: 100}
}

func (h HealthCheck) Check(ret Return, totalDebt int64) error {
	if ret.Gain > 0 {
		if limit := fpmath.BpsOf(totalDebt, h.ProfitLimitBps); ret.Gain > limit {
			return fmt.Errorf("%w: gain %d above limit %d", ErrHealthCheck, ret.Gain, limit)
		}
	}
	if limit := fpmath.BpsOf(totalDebt, h.LossLimitBps); ret.Loss > limit {
		return fmt.Errorf("%w: loss %d above limit %d", ErrHealthCheck, ret.Loss, limit)
	}
	return nil
}
