package vault

import (
	"fmt"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// WithdrawResult describes a completed withdrawal.
type WithdrawResult struct {
	SharesBurned int64 `json:"shares_burned"`
	Value        int64 `json:"value"` // share value before losses
	Paid         int64 `json:"paid"`  // sent to the recipient
	Loss         int64 `json:"loss"`  // realized while liquidating strategies
}

// Withdraw redeems shares from owner and pays recipient. When idle funds do
// not cover the shares' value, strategies are liquidated in queue order; the
// losses they realize are borne by this withdrawal and must stay within
// maxLossBps of the value. If strategies cannot free enough, the withdrawal
// shrinks to what is available and only the matching shares are burned.
func (v *Vault) Withdraw(owner uuid.UUID, shares int64, recipient uuid.UUID, maxLossBps int64) (WithdrawResult, error) {
	var res WithdrawResult
	err := v.atomically(func() error {
		if maxLossBps < 0 || maxLossBps > fpmath.MaxBps {
			return fmt.Errorf("%w: %d", ErrInvalidLossBound, maxLossBps)
		}
		if shares <= 0 {
			return fmt.Errorf("%w: withdraw %d shares", ErrInvalidAmount, shares)
		}
		if have := v.BalanceOf(owner); have < shares {
			return fmt.Errorf("%w: have %d, redeeming %d", ErrInsufficientShares, have, shares)
		}

		value, err := v.shareValue(shares)
		if err != nil {
			return err
		}

		var totalLoss int64
		if value > v.st.TotalIdle {
			value, totalLoss, err = v.liquidateForWithdrawal(value, maxLossBps)
			if err != nil {
				return err
			}
			if value > v.st.TotalIdle {
				value = v.st.TotalIdle
				s, err := v.sharesForAmount(value + totalLoss)
				if err != nil {
					return err
				}
				shares = fpmath.Min(s, shares)
			}
		}

		if exceedsLossBound(totalLoss, value+totalLoss, maxLossBps) {
			return fmt.Errorf("%w: lost %d of %d (max %d bps)", ErrLossExceeded, totalLoss, value+totalLoss, maxLossBps)
		}

		if err := v.burn(owner, shares); err != nil {
			return err
		}
		v.st.TotalIdle -= value
		if err := v.book.Transfer(v.idleKey(), ledger.HolderWallet(recipient, v.want), value, ledger.JournalTypeWithdrawal); err != nil {
			return fmt.Errorf("withdraw transfer: %w", err)
		}

		res = WithdrawResult{SharesBurned: shares, Value: value + totalLoss, Paid: value, Loss: totalLoss}
		return nil
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	return res, nil
}

func exceedsLossBound(loss, value, maxLossBps int64) bool {
	if loss == 0 {
		return false
	}
	return loss > fpmath.BpsOf(value, maxLossBps)
}

// liquidateForWithdrawal raises value - idle from strategies in queue order.
// It returns the value net of realized losses and the total loss.
func (v *Vault) liquidateForWithdrawal(value, maxLossBps int64) (int64, int64, error) {
	var totalLoss int64

	for _, id := range v.st.Queue {
		if value <= v.st.TotalIdle {
			break
		}
		acct := v.st.Strategies[id]
		needed := fpmath.Min(value-v.st.TotalIdle, acct.TotalDebt)
		if needed == 0 {
			continue
		}

		liquidated, loss, err := v.adapters[id].LiquidatePosition(needed)
		if err != nil {
			return 0, 0, fmt.Errorf("liquidate strategy %s: %w", id, err)
		}
		if liquidated < 0 || loss < 0 || liquidated+loss > needed {
			return 0, 0, fmt.Errorf("%w: strategy %s freed %d with loss %d for %d needed",
				ErrInvalidAdapterReport, id, liquidated, loss, needed)
		}

		if err := v.book.Transfer(ledger.StrategyWallet(id, v.want), v.idleKey(), liquidated, ledger.JournalTypeLiquidation); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrInsufficientStrategyBalance, err)
		}
		v.st.TotalIdle += liquidated

		if loss > 0 {
			value -= loss
			totalLoss += loss
			if err := v.reportLoss(acct, loss); err != nil {
				return 0, 0, err
			}
		}
		v.reduceDebt(acct, liquidated)

		// fail fast, the final check after the loop is authoritative
		if exceedsLossBound(totalLoss, value+totalLoss, maxLossBps) {
			return 0, 0, fmt.Errorf("%w: lost %d of %d (max %d bps)", ErrLossExceeded, totalLoss, value+totalLoss, maxLossBps)
		}
	}

	return value, totalLoss, nil
}

// reportLoss writes a realized loss off the strategy's debt and shrinks its
// debt ratio in proportion, so the vault does not immediately lend the loss
// back.
func (v *Vault) reportLoss(acct *StrategyAccount, loss int64) error {
	if loss > acct.TotalDebt {
		return fmt.Errorf("%w: loss %d exceeds debt %d", ErrInvalidAdapterReport, loss, acct.TotalDebt)
	}
	if v.st.DebtRatio != 0 && v.st.TotalDebt > 0 {
		change, err := fpmath.MulDivDown(loss, v.st.DebtRatio, v.st.TotalDebt)
		if err != nil {
			return err
		}
		change = fpmath.Min(change, acct.DebtRatio)
		acct.DebtRatio -= change
		v.st.DebtRatio -= change
	}
	acct.TotalLoss += loss
	v.reduceDebt(acct, loss)
	return nil
}

func (v *Vault) reduceDebt(acct *StrategyAccount, amount int64) {
	amount = fpmath.Min(amount, acct.TotalDebt)
	acct.TotalDebt -= amount
	v.st.TotalDebt = fpmath.ClampNonNegative(v.st.TotalDebt - amount)
}
