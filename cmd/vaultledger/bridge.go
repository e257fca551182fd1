package main

import (
	"context"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"

	"github.com/rs/zerolog"
)

// outputBridge converts core outputs into the persistence, projection and
// outbound formats. The conversion lives here so core never imports the
// storage packages.
type outputBridge struct {
	persistIn    <-chan core.CoreOutput
	projectionIn <-chan core.CoreOutput

	persistOut    chan<- persistence.CoreOutput
	projectionOut chan<- projection.ProjectionOutput
	publishOut    chan<- ingestion.PublishableEvent

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// run forwards until ctx is cancelled or both inputs are closed. Persistence
// is never dropped; projection and publish are.
func (b *outputBridge) run(ctx context.Context) {
	persistIn, projectionIn := b.persistIn, b.projectionIn
	for persistIn != nil || projectionIn != nil {
		select {
		case <-ctx.Done():
			return

		case out, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			b.persist(ctx, out)

		case out, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case b.projectionOut <- projection.NewProjectionOutput(out.Envelope, out.Batch, out.View):
			default:
				if b.metrics != nil {
					b.metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func (b *outputBridge) persist(ctx context.Context, out core.CoreOutput) {
	row, err := persistence.NewCoreOutput(out.Envelope, out.Batch)
	if err != nil {
		// Only the result encoding can fail, and the core produced it.
		b.logger.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("encode output failed")
		return
	}

	select {
	case b.persistOut <- row:
	default:
		if b.metrics != nil {
			b.metrics.PersistBackpressure.Inc()
		}
		select {
		case b.persistOut <- row:
		case <-ctx.Done():
			return
		}
	}

	pub := ingestion.PublishableEvent{
		Sequence:       row.EventRow.Sequence,
		EventType:      row.EventRow.EventType,
		IdempotencyKey: row.EventRow.IdempotencyKey,
		StrategyID:     row.EventRow.StrategyID,
		Command:        out.Envelope.Payload,
		Result:         out.Envelope.Result,
		StateHash:      row.EventRow.StateHash,
		Timestamp:      row.EventRow.Timestamp,
	}
	select {
	case b.publishOut <- pub:
	default:
		if b.metrics != nil {
			b.metrics.PublishDrops.Inc()
		}
	}
}
