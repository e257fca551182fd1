package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"VaultLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundStreamName holds applied-command notifications.
const OutboundStreamName = "VAULT_EVENTS"

// Headers set on every outbound message.
const (
	HeaderSequence  = "Vault-Sequence"
	HeaderStateHash = "Vault-State-Hash"
)

// PublishableEvent is an applied command as downstream consumers see it.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	StrategyID     *string         `json:"strategy_id,omitempty"`
	Command        json.RawMessage `json:"command"`
	Result         any             `json:"result,omitempty"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subject is vault.applied.<EventType>.
func (p PublishableEvent) Subject() string {
	return "vault.applied." + p.EventType
}

// MsgID lets JetStream drop a republish of the same sequence.
func (p PublishableEvent) MsgID() string {
	return "seq-" + strconv.FormatInt(p.Sequence, 10)
}

// Message encodes the event with its sequence and state hash as headers.
func (p PublishableEvent) Message() (*nats.Msg, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal seq %d: %w", p.Sequence, err)
	}
	msg := nats.NewMsg(p.Subject())
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, p.MsgID())
	msg.Header.Set(HeaderSequence, strconv.FormatInt(p.Sequence, 10))
	msg.Header.Set(HeaderStateHash, hex.EncodeToString(p.StateHash))
	return msg, nil
}

// MsgPublisher is the part of jetstream.JetStream the publisher needs.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher forwards applied commands to VAULT_EVENTS. Publishing
// is best effort: the event log stays the source of truth, so an event that
// still fails after the retries is counted and skipped.
type OutboundPublisher struct {
	js        MsgPublisher
	inputChan <-chan PublishableEvent
	attempts  int
	backoff   time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js MsgPublisher, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		attempts:  3,
		backoff:   200 * time.Millisecond,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until the input channel closes (nil) or ctx is done.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				if op.metrics != nil {
					op.metrics.PublishFailures.Inc()
				}
				op.logger.Warn().Err(err).
					Int64("sequence", evt.Sequence).
					Str("subject", evt.Subject()).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	msg, err := evt.Message()
	if err != nil {
		return err
	}

	backoff := op.backoff
	for attempt := 1; ; attempt++ {
		_, err = op.js.PublishMsg(ctx, msg)
		if err == nil || attempt >= op.attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// EnsureOutboundStream creates or updates VAULT_EVENTS.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStreamName,
		Subjects:   []string{"vault.applied.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
