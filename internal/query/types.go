package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VaultResponse is the projected vault state. Amounts are in whole units of
// the want token; the raw integer fields are the smallest unit.
type VaultResponse struct {
	VaultID           uuid.UUID       `json:"vault_id"`
	Asset             string          `json:"asset"`
	TotalAssets       decimal.Decimal `json:"total_assets"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	TotalIdle         decimal.Decimal `json:"total_idle"`
	TotalDebt         decimal.Decimal `json:"total_debt"`
	LockedProfit      decimal.Decimal `json:"locked_profit"`
	PricePerShare     decimal.Decimal `json:"price_per_share"`
	DepositLimit      decimal.Decimal `json:"deposit_limit"`
	DebtRatioBps      int64           `json:"debt_ratio_bps"`
	ManagementFeeBps  int64           `json:"management_fee_bps"`
	PerformanceFeeBps int64           `json:"performance_fee_bps"`
	FeeRecipient      uuid.UUID       `json:"fee_recipient"`
	EmergencyShutdown bool            `json:"emergency_shutdown"`
	LastReport        time.Time       `json:"last_report"`
	RawPricePerShare  int64           `json:"raw_price_per_share"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// StrategyResponse is one strategy as projected.
type StrategyResponse struct {
	StrategyID        uuid.UUID       `json:"strategy_id"`
	Status            string          `json:"status"`
	QueuePosition     *int            `json:"queue_position,omitempty"`
	DebtRatioBps      int64           `json:"debt_ratio_bps"`
	MinDebtPerHarvest decimal.Decimal `json:"min_debt_per_harvest"`
	MaxDebtPerHarvest decimal.Decimal `json:"max_debt_per_harvest"`
	PerformanceFeeBps int64           `json:"performance_fee_bps"`
	Strategist        uuid.UUID       `json:"strategist"`
	TotalDebt         decimal.Decimal `json:"total_debt"`
	TotalGain         decimal.Decimal `json:"total_gain"`
	TotalLoss         decimal.Decimal `json:"total_loss"`
	Activation        time.Time       `json:"activation"`
	LastReport        time.Time       `json:"last_report"`
	MigratedTo        *uuid.UUID      `json:"migrated_to,omitempty"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// SharesResponse is a holder's position in the vault.
type SharesResponse struct {
	Holder       uuid.UUID       `json:"holder"`
	Shares       decimal.Decimal `json:"shares"`
	Value        decimal.Decimal `json:"value"`  // shares at the projected price per share
	Wallet       decimal.Decimal `json:"wallet"` // want held outside the vault
	RawShares    int64           `json:"raw_shares"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// HarvestResponse is one harvest from the projected history.
type HarvestResponse struct {
	Sequence        int64           `json:"sequence"`
	StrategyID      uuid.UUID       `json:"strategy_id"`
	Gain            decimal.Decimal `json:"gain"`
	Loss            decimal.Decimal `json:"loss"`
	DebtPayment     decimal.Decimal `json:"debt_payment"`
	Credit          decimal.Decimal `json:"credit"`
	Fees            decimal.Decimal `json:"fees"`
	FeeShares       decimal.Decimal `json:"fee_shares"`
	DebtOutstanding decimal.Decimal `json:"debt_outstanding"`
	TotalDebt       decimal.Decimal `json:"total_debt"`
	EmergencyExit   bool            `json:"emergency_exit"`
	PricePerShare   decimal.Decimal `json:"price_per_share"`
	Timestamp       time.Time       `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Timestamp     time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
