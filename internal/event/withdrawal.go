package event

import (
	"github.com/google/uuid"
)

// DefaultMaxLossBps is the loss bound applied when a withdrawal names none.
const DefaultMaxLossBps int64 = 1

// Withdraw burns an owner's shares for want paid to Recipient, accepting at
// most MaxLossBps of the redeemed value as realized strategy loss.
type Withdraw struct {
	Meta
	Owner      uuid.UUID `json:"owner"`
	Shares     int64     `json:"shares"`
	Recipient  uuid.UUID `json:"recipient"`
	MaxLossBps int64     `json:"max_loss_bps"`
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) Stream() Stream {
	return StreamHolder
}

func (w *Withdraw) StrategyID() *uuid.UUID {
	return nil
}

// Payee is the recipient, defaulting to the owner.
func (w *Withdraw) Payee() uuid.UUID {
	if w.Recipient == uuid.Nil {
		return w.Owner
	}
	return w.Recipient
}
