package ledger

import (
	"fmt"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.add(j.DebitAccount, j.Amount)
	bt.add(j.CreditAccount, -j.Amount)
}

// RevertJournal undoes a previously applied journal entry.
func (bt *BalanceTracker) RevertJournal(j Journal) {
	bt.add(j.DebitAccount, -j.Amount)
	bt.add(j.CreditAccount, j.Amount)
}

// add keeps the map free of zero entries so snapshots compare cleanly.
func (bt *BalanceTracker) add(key AccountKey, delta int64) {
	v := bt.balances[key] + delta
	if v == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance. Only used when restoring from a snapshot.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateAllInternalNonNegative checks every non-external account.
func (bt *BalanceTracker) ValidateAllInternalNonNegative() error {
	for key, balance := range bt.balances {
		if !key.IsExternal() && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// Holders returns every holder-scope account with a non-zero balance of assetID.
func (bt *BalanceTracker) Holders(assetID AssetID) map[AccountKey]int64 {
	out := make(map[AccountKey]int64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeHolder && key.AssetID == assetID && balance != 0 {
			out[key] = balance
		}
	}
	return out
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
