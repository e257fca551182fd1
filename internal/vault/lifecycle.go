package vault

import (
	"fmt"
	"time"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// --- Strategy lifecycle ---

// AddStrategy registers an adapter at the end of the withdrawal queue.
func (v *Vault) AddStrategy(ad StrategyAdapter, params StrategyParams) error {
	return v.atomically(func() error {
		if v.st.EmergencyShutdown {
			return ErrEmergencyShutdown
		}
		if ad == nil {
			return fmt.Errorf("%w: nil adapter", ErrInvalidParams)
		}
		id := ad.ID()
		if _, ok := v.st.Strategies[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStrategy, id)
		}
		if len(v.st.Queue) >= MaxStrategies {
			return fmt.Errorf("%w: queue holds %d strategies", ErrInvalidParams, MaxStrategies)
		}
		if err := params.validate(); err != nil {
			return fmt.Errorf("%w: %+v", err, params)
		}
		if v.st.DebtRatio+params.DebtRatio > fpmath.MaxBps {
			return fmt.Errorf("%w: %d + %d", ErrRatioOverflow, v.st.DebtRatio, params.DebtRatio)
		}

		now := v.clock.Now()
		v.st.Strategies[id] = &StrategyAccount{
			ID:             id,
			StrategyParams: params,
			Activation:     now,
			LastReport:     now,
		}
		v.st.Queue = append(v.st.Queue, id)
		v.st.DebtRatio += params.DebtRatio
		v.adapters[id] = ad
		return nil
	}, ad)
}

// UpdateStrategyDebtRatio retargets a strategy. The new ratio applies from
// the next credit computation.
func (v *Vault) UpdateStrategyDebtRatio(id uuid.UUID, ratio int64) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		if ratio < 0 || ratio > fpmath.MaxBps {
			return fmt.Errorf("%w: debt ratio %d", ErrInvalidParams, ratio)
		}
		total := v.st.DebtRatio - acct.DebtRatio + ratio
		if total > fpmath.MaxBps {
			return fmt.Errorf("%w: total would be %d", ErrRatioOverflow, total)
		}
		v.st.DebtRatio = total
		acct.DebtRatio = ratio
		return nil
	})
}

func (v *Vault) UpdateStrategyMinDebtPerHarvest(id uuid.UUID, amount int64) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		p := acct.StrategyParams
		p.MinDebtPerHarvest = amount
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: min debt per harvest %d", err, amount)
		}
		acct.StrategyParams = p
		return nil
	})
}

func (v *Vault) UpdateStrategyMaxDebtPerHarvest(id uuid.UUID, amount int64) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		p := acct.StrategyParams
		p.MaxDebtPerHarvest = amount
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: max debt per harvest %d", err, amount)
		}
		acct.StrategyParams = p
		return nil
	})
}

func (v *Vault) UpdateStrategyPerformanceFee(id uuid.UUID, bps int64) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		p := acct.StrategyParams
		p.PerformanceFeeBps = bps
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: strategist fee %d", err, bps)
		}
		acct.StrategyParams = p
		return nil
	})
}

// SetStrategyHealthCheck installs or, with nil, clears the harvest bounds.
func (v *Vault) SetStrategyHealthCheck(id uuid.UUID, hc *HealthCheck) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		if hc == nil {
			acct.HealthCheck = nil
			return nil
		}
		if hc.ProfitLimitBps < 0 || hc.LossLimitBps < 0 || hc.LossLimitBps > fpmath.MaxBps {
			return fmt.Errorf("%w: health check %+v", ErrInvalidParams, *hc)
		}
		c := *hc
		acct.HealthCheck = &c
		return nil
	})
}

// DisableHealthCheckOnce skips the health check on the strategy's next
// harvest only.
func (v *Vault) DisableHealthCheckOnce(id uuid.UUID) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		acct.SkipHealthCheck = true
		return nil
	})
}

func (v *Vault) updateStrategy(id uuid.UUID, fn func(*StrategyAccount) error) error {
	return v.atomically(func() error {
		acct, _, err := v.activeStrategy(id)
		if err != nil {
			return err
		}
		return fn(acct)
	})
}

// RevokeStrategy drops the strategy's ratio to zero so the next harvest
// recalls all of its debt. The record stays until the debt is repaid.
func (v *Vault) RevokeStrategy(id uuid.UUID) error {
	return v.updateStrategy(id, func(acct *StrategyAccount) error {
		if acct.DebtRatio == 0 {
			return nil
		}
		v.st.DebtRatio -= acct.DebtRatio
		acct.DebtRatio = 0
		return nil
	})
}

// RemoveStrategy takes a fully repaid strategy out of the queue.
func (v *Vault) RemoveStrategy(id uuid.UUID) error {
	return v.atomically(func() error {
		acct, _, err := v.activeStrategy(id)
		if err != nil {
			return err
		}
		if acct.TotalDebt != 0 {
			return fmt.Errorf("%w: %s owes %d", ErrStrategyHasDebt, id, acct.TotalDebt)
		}
		v.st.DebtRatio -= acct.DebtRatio
		acct.DebtRatio = 0
		acct.Removed = true
		v.st.Queue = removeID(v.st.Queue, id)
		delete(v.adapters, id)
		return nil
	})
}

// MigrateStrategy swaps oldID's adapter for next, carrying over its terms
// and debt. next takes oldID's place in the queue.
func (v *Vault) MigrateStrategy(oldID uuid.UUID, next StrategyAdapter) error {
	return v.atomically(func() error {
		if next == nil {
			return fmt.Errorf("%w: nil adapter", ErrInvalidParams)
		}
		old, oldAd, err := v.activeStrategy(oldID)
		if err != nil {
			return err
		}
		newID := next.ID()
		if _, ok := v.st.Strategies[newID]; ok {
			return fmt.Errorf("%w: %s already registered", ErrNotActive, newID)
		}

		migrated := &StrategyAccount{
			ID:             newID,
			StrategyParams: old.StrategyParams,
			TotalDebt:      old.TotalDebt,
			Activation:     old.LastReport,
			LastReport:     old.LastReport,
		}
		if old.HealthCheck != nil {
			hc := *old.HealthCheck
			migrated.HealthCheck = &hc
		}

		if err := oldAd.Migrate(next); err != nil {
			return fmt.Errorf("migrate %s -> %s: %w", oldID, newID, err)
		}
		if left := oldAd.EstimatedTotalAssets(); left != 0 {
			return fmt.Errorf("%w: %s still holds %d after migration", ErrInvalidAdapterReport, oldID, left)
		}

		old.DebtRatio = 0
		old.TotalDebt = 0
		old.TotalGain = 0
		old.TotalLoss = 0
		old.MigratedTo = newID

		v.st.Strategies[newID] = migrated
		for i, id := range v.st.Queue {
			if id == oldID {
				v.st.Queue[i] = newID
				break
			}
		}
		delete(v.adapters, oldID)
		v.adapters[newID] = next
		return nil
	}, next)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// --- Governance ---

// SetEmergencyShutdown blocks deposits and new credit. Withdrawals and
// harvests keep working so strategies can wind down.
func (v *Vault) SetEmergencyShutdown(active bool) {
	v.st.EmergencyShutdown = active
}

func (v *Vault) SetDepositLimit(limit int64) error {
	if limit < 0 {
		return fmt.Errorf("%w: deposit limit %d", ErrInvalidParams, limit)
	}
	v.st.DepositLimit = limit
	return nil
}

func (v *Vault) SetManagementFee(bps int64) error {
	if bps < 0 || bps > fpmath.MaxBps {
		return fmt.Errorf("%w: management fee %d", ErrInvalidParams, bps)
	}
	v.st.ManagementFeeBps = bps
	return nil
}

func (v *Vault) SetPerformanceFee(bps int64) error {
	if bps < 0 || bps > MaxStrategistFeeBps {
		return fmt.Errorf("%w: performance fee %d", ErrInvalidParams, bps)
	}
	v.st.PerformanceFeeBps = bps
	return nil
}

func (v *Vault) SetFeeRecipient(holder uuid.UUID) error {
	if holder == uuid.Nil {
		return fmt.Errorf("%w: fee recipient is required", ErrInvalidParams)
	}
	v.st.FeeRecipient = holder
	return nil
}

// SetLockedProfitDegradation changes the vesting window. Profit already
// locked keeps vesting from the last report under the new window.
func (v *Vault) SetLockedProfitDegradation(window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("%w: degradation window %s", ErrInvalidParams, window)
	}
	v.st.Vesting.Window = window
	return nil
}

// Sweep sends the vault's whole balance of a stray asset to recipient. The
// want and share assets can never be swept.
func (v *Vault) Sweep(asset ledger.AssetID, recipient uuid.UUID) (int64, error) {
	if asset == v.want || asset == v.share {
		return 0, fmt.Errorf("%w: asset %s is reserved", ErrUnauthorized, asset)
	}
	var swept int64
	err := v.atomically(func() error {
		from := ledger.VaultIdle(v.id, asset)
		swept = v.book.Balance(from)
		if swept <= 0 {
			swept = 0
			return nil
		}
		return v.book.Transfer(from, ledger.HolderWallet(recipient, asset), swept, ledger.JournalTypeSweep)
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}
