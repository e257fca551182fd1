package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"

	"github.com/rs/zerolog"
)

// CoreOutput is the flattened form of one applied command.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// NewCoreOutput flattens an envelope and its journal batch for writing.
func NewCoreOutput(env *event.EventEnvelope, batch *ledger.Batch) (CoreOutput, error) {
	row, err := NewEventRow(env)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{EventRow: row, JournalRows: NewJournalRows(batch)}, nil
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with a blocking send, so if this
// worker falls behind the core stalls and no command is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	db           *sql.DB
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db, batchSize),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// pending is the batch being accumulated between flushes.
type pending struct {
	events   []EventRow
	journals []JournalRow
}

func (p *pending) add(out CoreOutput) {
	p.events = append(p.events, out.EventRow)
	p.journals = append(p.journals, out.JournalRows...)
}

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
}

// shutdownFlushTimeout bounds the retries for the last batch once the
// worker is stopping.
const shutdownFlushTimeout = 10 * time.Second

// Run writes a batch when it reaches batchSize or flushTimeout after the
// last write. It returns nil once the input channel is closed and drained,
// or ctx.Err() when cancelled; either way the pending batch is written.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	write := func(ctx context.Context, reason string) {
		if len(batch.events) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch.events, batch.journals); err != nil {
			if reason != "shutdown" {
				// cancelled mid-retry; the shutdown flush takes the batch
				return
			}
			pw.logger.Error().Err(err).
				Str("reason", reason).
				Int64("first_sequence", batch.events[0].Sequence).
				Int("events", len(batch.events)).
				Msg("batch not persisted")
		}
		batch.reset()
	}
	final := func() {
		fctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		write(fctx, "shutdown")
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				final()
				return nil
			}
			batch.add(out)
			if len(batch.events) >= pw.batchSize {
				write(ctx, "size")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			write(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is done.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		err := pw.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Int64("first_sequence", events[0].Sequence).
			Msg("flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
