package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// Viewer runs a function on the core goroutine.
type Viewer interface {
	View(ctx context.Context, fn func(*core.DeterministicCore)) error
}

// SnapshotStore is the write side of snapshot storage.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *persistence.SnapshotData) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// Snapshotter captures core state through the sequencer and stores it.
type Snapshotter struct {
	view    Viewer
	store   SnapshotStore
	keep    int
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
}

// NewSnapshotter keeps the newest keep snapshots; keep <= 0 keeps all.
func NewSnapshotter(view Viewer, store SnapshotStore, keep int, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		view:    view,
		store:   store,
		keep:    keep,
		metrics: metrics,
		logger:  logger.With().Str("component", "snapshotter").Logger(),
		lastSeq: -1,
	}
}

// SetLastSequence records the sequence of a snapshot restored at startup so
// Run does not immediately retake it.
func (s *Snapshotter) SetLastSequence(seq int64) {
	s.mu.Lock()
	s.lastSeq = seq
	s.mu.Unlock()
}

// Take snapshots the live core. It returns the snapshot's sequence, or -1
// when the core has not applied anything yet.
func (s *Snapshotter) Take(ctx context.Context) (int64, error) {
	var state *core.SnapshotState
	if err := s.view.View(ctx, func(c *core.DeterministicCore) {
		state = c.CreateSnapshotState()
	}); err != nil {
		return -1, fmt.Errorf("capture snapshot: %w", err)
	}
	return s.Save(ctx, state)
}

// Save stores an already captured state. Used at shutdown once the
// sequencer has stopped.
func (s *Snapshotter) Save(ctx context.Context, state *core.SnapshotState) (int64, error) {
	if state.Sequence < 0 {
		return -1, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Sequence == s.lastSeq {
		return state.Sequence, nil
	}

	start := time.Now()
	data := ToSnapshotData(state, start.UTC())
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return -1, fmt.Errorf("save snapshot %d: %w", data.Sequence, err)
	}
	// Captured on the core goroutine.
	if err := s.store.MarkVerified(ctx, data.Sequence); err != nil {
		return -1, fmt.Errorf("verify snapshot %d: %w", data.Sequence, err)
	}
	s.lastSeq = data.Sequence

	if s.keep > 0 {
		pruned, err := s.store.PruneSnapshots(ctx, s.keep)
		if err != nil {
			s.logger.Warn().Err(err).Msg("prune snapshots failed")
		} else if pruned > 0 {
			s.logger.Debug().Int64("pruned", pruned).Msg("old snapshots pruned")
		}
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	s.logger.Info().Int64("sequence", data.Sequence).Int("bytes", size).Msg("snapshot saved")
	return data.Sequence, nil
}

// Run snapshots whenever at least interval commands were applied since the
// last snapshot, checking every check period.
func (s *Snapshotter) Run(ctx context.Context, interval int64, check time.Duration) error {
	if interval <= 0 {
		interval = 100_000
	}
	if check <= 0 {
		check = 10 * time.Second
	}

	ticker := time.NewTicker(check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var next int64
			if err := s.view.View(ctx, func(c *core.DeterministicCore) {
				next = c.GetSequence()
			}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

			s.mu.Lock()
			due := next-1-s.lastSeq >= interval
			s.mu.Unlock()
			if !due {
				continue
			}
			if _, err := s.Take(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}
