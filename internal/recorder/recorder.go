package recorder

import "time"

// Step is the vault after one simulated command.
type Step struct {
	Run           string
	Index         int
	Command       string
	Sequence      int64
	At            time.Time // simulated ledger time
	Rejected      string    // reject reason, empty when applied
	TotalAssets   int64
	TotalSupply   int64
	TotalIdle     int64
	TotalDebt     int64
	LockedProfit  int64
	PricePerShare int64
}

// Harvest is one report produced during a run.
type Harvest struct {
	Run         string
	Sequence    int64
	Strategy    string
	Gain        int64
	Loss        int64
	DebtPayment int64
	Credit      int64
	Fees        int64
	FeeShares   int64
	At          time.Time
}

// Recorder persists simulator runs for later analysis.
type Recorder interface {
	RecordStep(s *Step) error
	RecordHarvest(h *Harvest) error
	Close() error
}
