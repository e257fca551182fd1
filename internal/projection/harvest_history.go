package projection

import (
	"time"

	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// HarvestEntry is one strategy report as seen by readers.
type HarvestEntry struct {
	Sequence        int64     `json:"sequence"`
	StrategyID      uuid.UUID `json:"strategy_id"`
	Gain            int64     `json:"gain"`
	Loss            int64     `json:"loss"`
	DebtPayment     int64     `json:"debt_payment"`
	Credit          int64     `json:"credit"`
	Fees            int64     `json:"fees"`
	FeeShares       int64     `json:"fee_shares"`
	DebtOutstanding int64     `json:"debt_outstanding"`
	TotalDebt       int64     `json:"total_debt"`
	EmergencyExit   bool      `json:"emergency_exit"`
	PricePerShare   int64     `json:"price_per_share"` // after the report
	Timestamp       time.Time `json:"timestamp"`
}

// NewHarvestEntry flattens a report result.
func NewHarvestEntry(sequence int64, ts time.Time, r vault.ReportResult, pricePerShare int64) HarvestEntry {
	return HarvestEntry{
		Sequence:        sequence,
		StrategyID:      r.StrategyID,
		Gain:            r.Gain,
		Loss:            r.Loss,
		DebtPayment:     r.DebtPayment,
		Credit:          r.Credit,
		Fees:            r.Fees.Total(),
		FeeShares:       r.FeeShares,
		DebtOutstanding: r.DebtOutstanding,
		TotalDebt:       r.TotalDebt,
		EmergencyExit:   r.EmergencyExit,
		PricePerShare:   pricePerShare,
		Timestamp:       ts,
	}
}

// HarvestHistory keeps harvest entries in memory, newest last.
type HarvestHistory struct {
	entries []HarvestEntry
}

func NewHarvestHistory() *HarvestHistory {
	return &HarvestHistory{
		entries: make([]HarvestEntry, 0),
	}
}

// Add records a harvest
func (h *HarvestHistory) Add(entry HarvestEntry) {
	h.entries = append(h.entries, entry)
}

// QueryByStrategy returns up to limit entries for a strategy, newest first.
// uuid.Nil matches every strategy.
func (h *HarvestHistory) QueryByStrategy(strategyID uuid.UUID, limit int) []HarvestEntry {
	result := make([]HarvestEntry, 0)

	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if strategyID == uuid.Nil || h.entries[i].StrategyID == strategyID {
			result = append(result, h.entries[i])
		}
	}

	return result
}

// Len returns the number of recorded harvests.
func (h *HarvestHistory) Len() int { return len(h.entries) }
