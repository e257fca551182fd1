package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"VaultLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Enqueuer accepts parsed commands for the core.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt event.Event) error
}

// RunCommandLoop parses raw NATS messages and forwards them to the core.
// Messages are acked once the core has accepted them into its queue, not
// after processing, so a slow core backs up into NATS instead of tripping
// AckWait. Unparseable messages are terminated so they are not redelivered.
func RunCommandLoop(ctx context.Context, rawChan <-chan RawEvent, sink Enqueuer, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}

			evt, err := ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
				if raw.TermFunc != nil {
					raw.TermFunc()
				} else {
					raw.AckFunc()
				}
				continue
			}

			if err := sink.Enqueue(ctx, evt); err != nil {
				raw.NakFunc()
				return fmt.Errorf("enqueue %s: %w", evt.IdempotencyKey(), err)
			}
			raw.AckFunc()
		}
	}
}

// SubjectPublisher is the part of jetstream.JetStream the command
// publisher needs.
type SubjectPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// CommandPublisher is the producer side: it publishes commands to the
// inbound stream on their canonical subject.
type CommandPublisher struct {
	js SubjectPublisher
}

func NewCommandPublisher(js SubjectPublisher) *CommandPublisher {
	return &CommandPublisher{js: js}
}

// Publish sends evt; the command ID doubles as the JetStream Msg-Id.
func (p *CommandPublisher) Publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	if _, err := p.js.Publish(ctx, CommandSubject(evt), data, jetstream.WithMsgID(evt.IdempotencyKey())); err != nil {
		return fmt.Errorf("publish %s: %w", evt.IdempotencyKey(), err)
	}
	return nil
}

// Enqueue lets a CommandPublisher stand in wherever commands are submitted
// asynchronously.
func (p *CommandPublisher) Enqueue(ctx context.Context, evt event.Event) error {
	return p.Publish(ctx, evt)
}
