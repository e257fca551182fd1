package main

import (
	"context"
	"testing"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func output(seq int64) core.CoreOutput {
	strategyID := uuid.MustParse("20000000-0000-0000-0000-00000000000a")
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: uuid.NewString(),
			EventType:      event.EventTypeHarvest,
			Stream:         event.StreamKeeper,
			StrategyID:     &strategyID,
			Timestamp:      time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
			SourceSequence: seq,
			Payload:        []byte(`{"strategy_id":"` + strategyID.String() + `"}`),
		},
		View: &vault.Summary{PricePerShare: 1_000_000},
	}
}

func TestOutputBridge_DrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	persistIn := make(chan core.CoreOutput, 8)
	projectionIn := make(chan core.CoreOutput, 8)
	persistOut := make(chan persistence.CoreOutput, 8)
	projectionOut := make(chan projection.ProjectionOutput, 1)
	publishOut := make(chan ingestion.PublishableEvent, 1)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	b := &outputBridge{
		persistIn:     persistIn,
		projectionIn:  projectionIn,
		persistOut:    persistOut,
		projectionOut: projectionOut,
		publishOut:    publishOut,
		metrics:       metrics,
		logger:        zerolog.Nop(),
	}

	for seq := int64(0); seq < 3; seq++ {
		persistIn <- output(seq)
		projectionIn <- output(seq)
	}
	close(persistIn)
	close(projectionIn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after inputs closed")
	}

	require.Len(t, persistOut, 3, "persistence is never dropped")
	first := <-persistOut
	require.Equal(t, int64(0), first.EventRow.Sequence)
	require.Equal(t, "Harvest", first.EventRow.EventType)
	require.NotNil(t, first.EventRow.StrategyID)

	require.Len(t, projectionOut, 1)
	require.Equal(t, 2.0, promtest.ToFloat64(metrics.ProjectionDrops.WithLabelValues("bridge")))

	require.Len(t, publishOut, 1)
	pub := <-publishOut
	require.Equal(t, "vault.applied.Harvest", pub.Subject())
	require.JSONEq(t, string(output(0).Envelope.Payload), string(pub.Command))
	require.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishDrops))
}

func TestOutputBridge_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	persistIn := make(chan core.CoreOutput, 1)
	persistIn <- output(0)
	b := &outputBridge{
		persistIn:     persistIn,
		projectionIn:  make(chan core.CoreOutput),
		persistOut:    make(chan persistence.CoreOutput), // nobody reads
		projectionOut: make(chan projection.ProjectionOutput),
		publishOut:    make(chan ingestion.PublishableEvent),
		metrics:       observability.NewMetricsWith(prometheus.NewRegistry()),
		logger:        zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.run(ctx)
	}()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(b.metrics.PersistBackpressure) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge blocked on a stalled persist channel")
	}
}
