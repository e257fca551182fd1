// internal/event/deposit.go
package event

import "github.com/google/uuid"

// FundWallet credits want from outside the ledger to a holder's wallet.
type FundWallet struct {
	Meta
	Holder uuid.UUID `json:"holder"`
	Amount int64     `json:"amount"` // Fixed-point, want units
}

func (f *FundWallet) EventType() EventType { return EventTypeFundWallet }

func (f *FundWallet) Stream() Stream { return StreamHolder }

func (f *FundWallet) StrategyID() *uuid.UUID {
	return nil // Vault-wide
}

// Deposit moves want from the depositor's wallet into the vault for shares.
type Deposit struct {
	Meta
	Depositor uuid.UUID `json:"depositor"`
	Amount    int64     `json:"amount"`
}

func (d *Deposit) EventType() EventType { return EventTypeDeposit }

func (d *Deposit) Stream() Stream { return StreamHolder }

func (d *Deposit) StrategyID() *uuid.UUID { return nil }

// TransferShares moves vault shares between holders.
type TransferShares struct {
	Meta
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Shares int64     `json:"shares"`
}

func (t *TransferShares) EventType() EventType { return EventTypeTransferShares }

func (t *TransferShares) Stream() Stream { return StreamHolder }

func (t *TransferShares) StrategyID() *uuid.UUID { return nil }

// Payout sends want from a holder's wallet out of the ledger.
type Payout struct {
	Meta
	Holder uuid.UUID `json:"holder"`
	Amount int64     `json:"amount"`
}

func (p *Payout) EventType() EventType { return EventTypePayout }

func (p *Payout) Stream() Stream { return StreamHolder }

func (p *Payout) StrategyID() *uuid.UUID { return nil }
