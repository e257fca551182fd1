package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateNonNegative verifies no internal account is overdrawn
func (v *InvariantValidator) ValidateNonNegative() error {
	return v.tracker.ValidateAllInternalNonNegative()
}

// ValidateCovers checks that the book holds at least the amount the vault
// believes it holds. Donations may push the book above the recorded figure.
func (v *InvariantValidator) ValidateCovers(key AccountKey, recorded int64) error {
	if have := v.tracker.GetBalance(key); have < recorded {
		return fmt.Errorf("account %s holds %d, ledger records %d", key.AccountPath(), have, recorded)
	}
	return nil
}

// ValidateEquals checks an account against an exact expected balance.
func (v *InvariantValidator) ValidateEquals(key AccountKey, expected int64) error {
	if have := v.tracker.GetBalance(key); have != expected {
		return fmt.Errorf("account %s holds %d, expected %d", key.AccountPath(), have, expected)
	}
	return nil
}
