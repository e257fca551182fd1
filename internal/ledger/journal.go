package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFund JournalType = iota // external want arriving in a holder wallet
	JournalTypeDeposit
	JournalTypeWithdrawal
	JournalTypePayout
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypeShareTransfer
	JournalTypeFeeShares
	JournalTypeCredit
	JournalTypeRepayment
	JournalTypeLiquidation
	JournalTypeInvest
	JournalTypeDivest
	JournalTypeSlippage
	JournalTypeReward
	JournalTypeSwap
	JournalTypeMigration
	JournalTypeSweep
)

var journalTypeNames = [...]string{
	"fund", "deposit", "withdrawal", "payout", "share_mint", "share_burn",
	"share_transfer", "fee_shares", "credit", "repayment", "liquidation",
	"invest", "divest", "slippage", "reward", "swap", "migration", "sweep",
}

func (jt JournalType) String() string {
	if int(jt) < 0 || int(jt) >= len(journalTypeNames) {
		return "unknown"
	}
	return journalTypeNames[jt]
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of the source command
	Sequence      int64      // Global command sequence
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	AssetID       AssetID
	Amount        int64 // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (epoch microseconds)
}

// Batch represents the balanced set of journal entries one command produced
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two accounts of the same asset, so every entry is balanced
// on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
