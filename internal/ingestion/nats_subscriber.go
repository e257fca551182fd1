package ingestion

import (
	"context"
	"fmt"
	"time"

	"VaultLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// CommandStreamName is the JetStream stream holding inbound vault commands.
const CommandStreamName = "VAULT_COMMANDS"

// RawEvent is one inbound message before parsing. Exactly one of the ack
// funcs must be called.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	Delivered uint64 // 1 on first delivery

	AckFunc  func() // accepted, never redeliver
	NakFunc  func() // redeliver later
	TermFunc func() // poison, never redeliver; nil means use AckFunc
}

// SubjectConfig binds one producer stream to its durable consumer. The
// command type is the last subject token, e.g. vault.holder.Deposit.
type SubjectConfig struct {
	Subject      string
	Stream       event.Stream
	ConsumerName string
	StreamName   string
}

// ConsumerOptions tunes redelivery for every command consumer.
type ConsumerOptions struct {
	AckWait    time.Duration
	MaxDeliver int
}

func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{AckWait: 30 * time.Second, MaxDeliver: 5}
}

var commandStreams = []event.Stream{event.StreamHolder, event.StreamKeeper, event.StreamGovernance, event.StreamVenue}

// DefaultSubjects returns one consumer per producer stream.
func DefaultSubjects() []SubjectConfig {
	out := make([]SubjectConfig, 0, len(commandStreams))
	for _, s := range commandStreams {
		out = append(out, SubjectConfig{
			Subject:      fmt.Sprintf("vault.%s.>", s),
			Stream:       s,
			ConsumerName: fmt.Sprintf("ledger-%s", s),
			StreamName:   CommandStreamName,
		})
	}
	return out
}

// CommandSubject is the subject a producer publishes evt on.
func CommandSubject(evt event.Event) string {
	return fmt.Sprintf("vault.%s.%s", evt.Stream(), evt.EventType())
}

// NATSSubscriber runs one JetStream consumer per command stream and hands
// messages to the command loop.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	opts      ConsumerOptions
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		opts:      DefaultConsumerOptions(),
		logger:    logger,
	}
}

// WithOptions replaces the redelivery settings; zero fields keep the
// defaults.
func (ns *NATSSubscriber) WithOptions(opts ConsumerOptions) *NATSSubscriber {
	if opts.AckWait > 0 {
		ns.opts.AckWait = opts.AckWait
	}
	if opts.MaxDeliver > 0 {
		ns.opts.MaxDeliver = opts.MaxDeliver
	}
	return ns
}

// consumerConfig keeps one message in flight per consumer, so a strict
// stream reaches the core in publish order.
func (ns *NATSSubscriber) consumerConfig(cfg SubjectConfig) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ns.opts.AckWait,
		MaxDeliver:    ns.opts.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, ns.consumerConfig(cfg))
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.deliver(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}
		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Dur("ack_wait", ns.opts.AckWait).
			Int("max_deliver", ns.opts.MaxDeliver).
			Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) deliver(ctx context.Context, msg jetstream.Msg) {
	raw := RawEvent{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Timestamp: time.Now(),
		AckFunc:   func() { _ = msg.Ack() },
		NakFunc:   func() { _ = msg.Nak() },
		TermFunc:  func() { _ = msg.Term() },
	}
	if md, err := msg.Metadata(); err == nil {
		raw.Delivered = md.NumDelivered
		if md.NumDelivered > 1 {
			ns.logger.Debug().Str("subject", raw.Subject).Uint64("delivered", md.NumDelivered).Msg("redelivery")
		}
	}

	select {
	case ns.eventChan <- raw:
	case <-ctx.Done():
		_ = msg.Nak()
	}
}

// Stop stops every consumer; unacked messages are redelivered on restart.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.consumers = nil
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates or updates the command stream.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	subjects := make([]string, 0, len(commandStreams))
	for _, s := range commandStreams {
		subjects = append(subjects, fmt.Sprintf("vault.%s.>", s))
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       CommandStreamName,
		Subjects:   subjects,
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute, // command IDs as Msg-Id
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", CommandStreamName, err)
	}
	return nil
}

// ConnectNATS dials with unlimited reconnects and returns a JetStream handle.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vaultledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
