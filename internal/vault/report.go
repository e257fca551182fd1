package vault

import (
	"fmt"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// ReportResult is what one report did to the ledger.
type ReportResult struct {
	StrategyID  uuid.UUID    `json:"strategy_id"`
	Gain        int64        `json:"gain"`
	Loss        int64        `json:"loss"`
	DebtPayment int64        `json:"debt_payment"` // as applied, after capping
	Credit      int64        `json:"credit"`
	Fees        FeeBreakdown `json:"fees"`
	FeeShares   int64        `json:"fee_shares"`

	// DebtOutstanding is handed back to the adapter for AdjustPosition.
	DebtOutstanding int64 `json:"debt_outstanding"`
	TotalDebt       int64 `json:"total_debt"`
	EmergencyExit   bool  `json:"emergency_exit"`
}

// Report reconciles a strategy's realized return with the ledger. The
// adapter's wallet must already hold gain + debtPayment.
func (v *Vault) Report(id uuid.UUID, ret Return) (ReportResult, error) {
	var res ReportResult
	err := v.atomically(func() error {
		acct, ad, err := v.activeStrategy(id)
		if err != nil {
			return err
		}
		res, err = v.report(acct, ad, ret)
		return err
	})
	if err != nil {
		return ReportResult{}, err
	}
	return res, nil
}

// Harvest drives one full harvest of a strategy: realize the return, check
// its health, report, then let the adapter reinvest. The whole sequence is
// one atomic step.
func (v *Vault) Harvest(id uuid.UUID) (ReportResult, error) {
	var res ReportResult
	err := v.atomically(func() error {
		acct, ad, err := v.activeStrategy(id)
		if err != nil {
			return err
		}

		outstanding := v.debtOutstanding(acct)
		var ret Return
		if ad.EmergencyExit() {
			freed, err := ad.LiquidateAllPositions()
			if err != nil {
				return fmt.Errorf("liquidate all: %w", err)
			}
			if freed < outstanding {
				ret.Loss = outstanding - freed
			} else {
				ret.Gain = freed - outstanding
			}
			ret.DebtPayment = outstanding - ret.Loss
		} else {
			ret, err = ad.PrepareReturn(outstanding)
			if err != nil {
				return fmt.Errorf("prepare return: %w", err)
			}
		}

		if acct.HealthCheck != nil && !acct.SkipHealthCheck {
			if err := acct.HealthCheck.Check(ret, acct.TotalDebt); err != nil {
				return err
			}
		}
		acct.SkipHealthCheck = false

		res, err = v.report(acct, ad, ret)
		if err != nil {
			return err
		}
		if err := ad.AdjustPosition(res.DebtOutstanding); err != nil {
			return fmt.Errorf("adjust position: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReportResult{}, err
	}
	return res, nil
}

// Tend lets the adapter rebalance without touching vault accounting.
func (v *Vault) Tend(id uuid.UUID) error {
	return v.atomically(func() error {
		_, ad, err := v.activeStrategy(id)
		if err != nil {
			return err
		}
		if err := ad.Tend(); err != nil {
			return fmt.Errorf("tend: %w", err)
		}
		return nil
	})
}

func (v *Vault) activeStrategy(id uuid.UUID) (*StrategyAccount, StrategyAdapter, error) {
	acct, ok := v.st.Strategies[id]
	if !ok || !acct.InQueue() {
		return nil, nil, fmt.Errorf("%w: strategy %s", ErrNotActive, id)
	}
	ad, ok := v.adapters[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no adapter for %s", ErrNotActive, id)
	}
	return acct, ad, nil
}

func (v *Vault) report(acct *StrategyAccount, ad StrategyAdapter, ret Return) (ReportResult, error) {
	if ret.Gain < 0 || ret.Loss < 0 || ret.DebtPayment < 0 {
		return ReportResult{}, fmt.Errorf("%w: negative amounts %+v", ErrInvalidAdapterReport, ret)
	}
	wallet := ledger.StrategyWallet(acct.ID, v.want)
	if have := v.book.Balance(wallet); have < ret.Gain+ret.DebtPayment {
		return ReportResult{}, fmt.Errorf("%w: wallet %d, reported gain %d + payment %d",
			ErrInsufficientStrategyBalance, have, ret.Gain, ret.DebtPayment)
	}

	now := v.clock.Now()
	res := ReportResult{StrategyID: acct.ID, Gain: ret.Gain, Loss: ret.Loss}

	if ret.Loss > 0 {
		if err := v.reportLoss(acct, ret.Loss); err != nil {
			return ReportResult{}, err
		}
	}

	fees, feeShares, err := v.assessFees(acct, ret.Gain, ret.Loss)
	if err != nil {
		return ReportResult{}, err
	}
	res.Fees, res.FeeShares = fees, feeShares
	acct.TotalGain += ret.Gain

	exiting := ad.EmergencyExit()
	res.EmergencyExit = exiting
	var credit int64
	if !exiting {
		credit = acct.CreditAvailable(v.view())
	}
	debt := v.debtOutstanding(acct)

	payment := fpmath.Min(ret.DebtPayment, debt)
	if payment > 0 {
		v.reduceDebt(acct, payment)
		debt -= payment
	}
	if credit > 0 {
		acct.TotalDebt += credit
		v.st.TotalDebt += credit
	}

	available := ret.Gain + payment
	switch {
	case available < credit:
		amt := credit - available
		if err := v.book.Transfer(v.idleKey(), wallet, amt, ledger.JournalTypeCredit); err != nil {
			return ReportResult{}, fmt.Errorf("credit transfer: %w", err)
		}
		v.st.TotalIdle -= amt
	case available > credit:
		amt := available - credit
		if err := v.book.Transfer(wallet, v.idleKey(), amt, ledger.JournalTypeRepayment); err != nil {
			return ReportResult{}, fmt.Errorf("%w: %v", ErrInsufficientStrategyBalance, err)
		}
		v.st.TotalIdle += amt
	}

	v.st.Vesting.Record(now, ret.Gain, fees.Total(), ret.Loss)
	acct.LastReport = now

	res.DebtPayment = payment
	res.Credit = credit
	res.TotalDebt = acct.TotalDebt
	if v.st.DebtRatio == 0 || v.st.EmergencyShutdown {
		res.DebtOutstanding = ad.EstimatedTotalAssets()
	} else {
		res.DebtOutstanding = debt
	}
	return res, nil
}

// assessFees mints fee shares at the price before the gain lands in the
// vault. The strategist's cut goes to acct.Strategist, the rest to the fee
// recipient.
func (v *Vault) assessFees(acct *StrategyAccount, gain, loss int64) (FeeBreakdown, int64, error) {
	now := v.clock.Now()
	if !now.After(acct.Activation) {
		return FeeBreakdown{}, 0, nil
	}

	in := FeeInput{
		Gain:              gain,
		Loss:              loss,
		TotalDebt:         acct.TotalDebt,
		Elapsed:           now.Sub(acct.LastReport),
		ManagementFeeBps:  v.st.ManagementFeeBps,
		PerformanceFeeBps: v.st.PerformanceFeeBps,
		StrategistFeeBps:  acct.PerformanceFeeBps,
	}
	if v.st.FeeRecipient == uuid.Nil {
		in.ManagementFeeBps, in.PerformanceFeeBps = 0, 0
	}
	if acct.Strategist == uuid.Nil {
		in.StrategistFeeBps = 0
	}

	fees := AssessFees(in)
	total := fees.Total()
	if total == 0 {
		return FeeBreakdown{}, 0, nil
	}
	if v.st.TotalSupply > 0 && v.freeFunds() == 0 {
		// no price to mint at
		return FeeBreakdown{}, 0, nil
	}

	shares, err := v.sharesForAmount(total)
	if err != nil {
		return FeeBreakdown{}, 0, err
	}
	if shares == 0 {
		return FeeBreakdown{}, 0, nil
	}

	var strategistShares int64
	if fees.Strategist > 0 {
		strategistShares, err = fpmath.MulDivDown(shares, fees.Strategist, total)
		if err != nil {
			return FeeBreakdown{}, 0, err
		}
		if err := v.mint(acct.Strategist, strategistShares, ledger.JournalTypeFeeShares); err != nil {
			return FeeBreakdown{}, 0, err
		}
	}
	if err := v.mint(v.st.FeeRecipient, shares-strategistShares, ledger.JournalTypeFeeShares); err != nil {
		return FeeBreakdown{}, 0, err
	}
	return fees, shares, nil
}
