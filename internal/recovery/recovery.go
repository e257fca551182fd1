package recovery

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// Store is the read side of the event log that recovery needs.
type Store interface {
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
	GetStateHashAt(ctx context.Context, sequence int64) ([]byte, error)
}

// Result describes what Restore did.
type Result struct {
	// SnapshotSequence is -1 on a cold start.
	SnapshotSequence int64
	Replayed         int64
}

// Restore brings a freshly constructed core up to the head of the event
// log: it restores the latest verified snapshot, if any, and replays every
// logged command after it. Each replayed command must reproduce the state
// hash recorded next to it.
func Restore(ctx context.Context, store Store, c *core.DeterministicCore, metrics *observability.Metrics, logger zerolog.Logger) (Result, error) {
	res := Result{SnapshotSequence: -1}
	start := time.Now()

	snap, err := store.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load snapshot failed, replaying full log")
		snap = nil
	}

	if snap != nil {
		state, err := ToCoreState(snap)
		if err != nil {
			return res, err
		}
		if err := c.RestoreFromSnapshot(state); err != nil {
			return res, err
		}
		res.SnapshotSequence = snap.Sequence
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored snapshot")

		if err := verifySnapshotHash(ctx, store, c, snap.Sequence, logger); err != nil {
			return res, err
		}
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	from := c.GetSequence()
	for {
		rows, err := store.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return res, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			evt, err := ingestion.ParseCommand(row.EventType, row.Payload)
			if err != nil {
				return res, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := c.Replay(evt, row.Sequence, hash); err != nil {
				return res, err
			}
			res.Replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if res.Replayed > 0 {
		logger.Info().
			Int64("replayed", res.Replayed).
			Int64("next_sequence", c.GetSequence()).
			Dur("took", time.Since(start)).
			Msg("event log replayed")
	}
	return res, nil
}

// verifySnapshotHash checks the restored hash against the log. A snapshot
// taken ahead of the last flushed batch has no row to compare with.
func verifySnapshotHash(ctx context.Context, store Store, c *core.DeterministicCore, seq int64, logger zerolog.Logger) error {
	logged, err := store.GetStateHashAt(ctx, seq)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Warn().Int64("sequence", seq).Msg("snapshot is ahead of the event log, hash not verified")
		return nil
	}
	if err != nil {
		return err
	}
	got := c.GetStateHash()
	if !bytes.Equal(logged, got[:]) {
		return fmt.Errorf("%w: snapshot %d logged %x, restored %x", core.ErrStateHashMismatch, seq, logged, got)
	}
	return nil
}
