package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeFundWallet
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeTransferShares
	EventTypeHarvest
	EventTypeTend
	EventTypeAddStrategy
	EventTypeUpdateStrategy
	EventTypeRevokeStrategy
	EventTypeRemoveStrategy
	EventTypeMigrateStrategy
	EventTypeStrategyEmergencyExit
	EventTypeSetHealthCheck
	EventTypeSetEmergencyShutdown
	EventTypeUpdateVault
	EventTypeSetFeeRecipient
	EventTypeSweep
	EventTypeRewardAirdrop
	EventTypePayout
)

var eventTypeNames = map[EventType]string{
	EventTypeFundWallet:            "FundWallet",
	EventTypeDeposit:               "Deposit",
	EventTypeWithdraw:              "Withdraw",
	EventTypeTransferShares:        "TransferShares",
	EventTypeHarvest:               "Harvest",
	EventTypeTend:                  "Tend",
	EventTypeAddStrategy:           "AddStrategy",
	EventTypeUpdateStrategy:        "UpdateStrategy",
	EventTypeRevokeStrategy:        "RevokeStrategy",
	EventTypeRemoveStrategy:        "RemoveStrategy",
	EventTypeMigrateStrategy:       "MigrateStrategy",
	EventTypeStrategyEmergencyExit: "StrategyEmergencyExit",
	EventTypeSetHealthCheck:        "SetHealthCheck",
	EventTypeSetEmergencyShutdown:  "SetEmergencyShutdown",
	EventTypeUpdateVault:           "UpdateVault",
	EventTypeSetFeeRecipient:       "SetFeeRecipient",
	EventTypeSweep:                 "Sweep",
	EventTypeRewardAirdrop:         "RewardAirdrop",
	EventTypePayout:                "Payout",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// AllEventTypes lists every command type in discriminator order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeFundWallet; et <= EventTypePayout; et++ {
		out = append(out, et)
	}
	return out
}

// Stream identifies the upstream producer of a command. Each stream numbers
// its commands independently and the core validates ordering per stream.
type Stream string

const (
	StreamHolder     Stream = "holder"     // depositors and custody
	StreamKeeper     Stream = "keeper"     // harvest/tend bots
	StreamGovernance Stream = "governance" // strategy and vault administration
	StreamVenue      Stream = "venue"      // reward emissions from the external pool
)

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Upstream producer; also the sequence validation partition
	Stream Stream

	// Strategy context (nil for vault-wide commands)
	StrategyID *uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command, replayable through ingestion.ParseCommand
	Payload []byte

	// Structured outcome of the command (shares minted, harvest report, ...)
	Result any

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Stream returns the producing stream
	Stream() Stream

	// StrategyID returns the strategy context (nil for vault-wide commands)
	StrategyID() *uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp
	OccurredAt() time.Time
}

// Meta is the upstream header every command carries.
type Meta struct {
	CommandID   string `json:"command_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"` // epoch microseconds
}

func (m Meta) IdempotencyKey() string { return m.CommandID }

func (m Meta) SourceSequence() int64 { return m.Sequence }

func (m Meta) OccurredAt() time.Time { return time.UnixMicro(m.TimestampUs).UTC() }

func strategyRef(id uuid.UUID) *uuid.UUID {
	s := id
	return &s
}
