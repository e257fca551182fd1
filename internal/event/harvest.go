package event

import "github.com/google/uuid"

// Harvest asks the vault to run a strategy's report cycle.
type Harvest struct {
	Meta
	Strategy uuid.UUID `json:"strategy_id"`
}

func (h *Harvest) EventType() EventType { return EventTypeHarvest }

func (h *Harvest) Stream() Stream { return StreamKeeper }

func (h *Harvest) StrategyID() *uuid.UUID { return strategyRef(h.Strategy) }

// Tend asks a strategy to rebalance its loose want without reporting.
type Tend struct {
	Meta
	Strategy uuid.UUID `json:"strategy_id"`
}

func (t *Tend) EventType() EventType { return EventTypeTend }

func (t *Tend) Stream() Stream { return StreamKeeper }

func (t *Tend) StrategyID() *uuid.UUID { return strategyRef(t.Strategy) }
