package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeJS struct {
	mu       sync.Mutex
	failures int // fail this many calls first
	calls    int
	sent     []*nats.Msg
}

func (f *fakeJS) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("nats: no responders available for request")
	}
	f.sent = append(f.sent, msg)
	return &jetstream.PubAck{Stream: ingestion.OutboundStreamName}, nil
}

func applied(seq int64) ingestion.PublishableEvent {
	return ingestion.PublishableEvent{
		Sequence:       seq,
		EventType:      "Deposit",
		IdempotencyKey: "d-1",
		Command:        json.RawMessage(`{"amount":10}`),
		Result:         map[string]int64{"shares": 10},
		StateHash:      []byte{0xab, 0xcd},
		Timestamp:      time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishableEvent_Message(t *testing.T) {
	msg, err := applied(7).Message()
	require.NoError(t, err)
	require.Equal(t, "vault.applied.Deposit", msg.Subject)
	require.Equal(t, "seq-7", msg.Header.Get(nats.MsgIdHdr))
	require.Equal(t, "7", msg.Header.Get(ingestion.HeaderSequence))
	require.Equal(t, "abcd", msg.Header.Get(ingestion.HeaderStateHash))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	require.Equal(t, map[string]any{"amount": 10.0}, body["command"])
}

func TestOutboundPublisher_RetriesThenDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	js := &fakeJS{failures: 1}
	in := make(chan ingestion.PublishableEvent, 2)
	in <- applied(0)
	in <- applied(1)
	close(in)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	require.NoError(t, ingestion.NewOutboundPublisher(js, in, metrics, zerolog.Nop()).Run(context.Background()))

	require.Equal(t, 3, js.calls)
	require.Len(t, js.sent, 2)
	require.Equal(t, "seq-1", js.sent[1].Header.Get(nats.MsgIdHdr))
	require.Zero(t, promtest.ToFloat64(metrics.PublishFailures))
}

func TestOutboundPublisher_SkipsAfterRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	js := &fakeJS{failures: 3}
	in := make(chan ingestion.PublishableEvent, 2)
	in <- applied(0)
	in <- applied(1)
	close(in)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	require.NoError(t, ingestion.NewOutboundPublisher(js, in, metrics, zerolog.Nop()).Run(context.Background()))

	require.Len(t, js.sent, 1, "seq 0 gave up, seq 1 went through")
	require.Equal(t, "seq-1", js.sent[0].Header.Get(nats.MsgIdHdr))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishFailures))
}
