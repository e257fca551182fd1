package event

import "github.com/google/uuid"

// SetEmergencyShutdown toggles the vault-wide shutdown.
type SetEmergencyShutdown struct {
	Meta
	Active bool `json:"active"`
}

func (s *SetEmergencyShutdown) EventType() EventType { return EventTypeSetEmergencyShutdown }

func (s *SetEmergencyShutdown) Stream() Stream { return StreamGovernance }

func (s *SetEmergencyShutdown) StrategyID() *uuid.UUID { return nil }

// SetFeeRecipient changes who receives the vault's fee shares.
type SetFeeRecipient struct {
	Meta
	Recipient uuid.UUID `json:"recipient"`
}

func (s *SetFeeRecipient) EventType() EventType { return EventTypeSetFeeRecipient }

func (s *SetFeeRecipient) Stream() Stream { return StreamGovernance }

func (s *SetFeeRecipient) StrategyID() *uuid.UUID { return nil }

// Sweep sends a stray token held by the vault, or by Strategy when set, to
// Recipient.
type Sweep struct {
	Meta
	Asset     string    `json:"asset"`
	Recipient uuid.UUID `json:"recipient"`
	Strategy  uuid.UUID `json:"strategy_id,omitempty"`
}

func (s *Sweep) EventType() EventType { return EventTypeSweep }

func (s *Sweep) Stream() Stream { return StreamGovernance }

func (s *Sweep) StrategyID() *uuid.UUID {
	if s.Strategy == uuid.Nil {
		return nil
	}
	return strategyRef(s.Strategy)
}

// RewardAirdrop emits reward tokens from the venue's gauge, either to one
// strategy or pro rata across every staker when Strategy is nil.
type RewardAirdrop struct {
	Meta
	Amount   int64     `json:"amount"`
	Strategy uuid.UUID `json:"strategy_id,omitempty"`
}

func (r *RewardAirdrop) EventType() EventType { return EventTypeRewardAirdrop }

func (r *RewardAirdrop) Stream() Stream { return StreamVenue }

func (r *RewardAirdrop) StrategyID() *uuid.UUID {
	if r.Strategy == uuid.Nil {
		return nil
	}
	return strategyRef(r.Strategy)
}
