package keeper

import (
	"context"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Core is the part of the sequencer the keeper needs.
type Core interface {
	View(ctx context.Context, fn func(*core.DeterministicCore)) error
	Enqueue(ctx context.Context, evt event.Event) error
}

// Sink takes keeper commands instead of the core queue, e.g. a NATS
// command publisher when the keeper should go through the inbound stream.
type Sink interface {
	Enqueue(ctx context.Context, evt event.Event) error
}

// Override tunes one strategy.
type Override struct {
	CallCost int64
	Paused   bool
}

type Options struct {
	// Schedule is a cron spec with a leading seconds field, or a descriptor
	// such as "@every 1m".
	Schedule string

	// CallCost is the want a keeper call is worth spending; triggers fire
	// only when the expected benefit exceeds it.
	CallCost  int64
	Overrides map[uuid.UUID]Override

	// Now stamps keeper commands. Defaults to time.Now.
	Now func() time.Time

	// Sink, when set, receives the commands; the core is only read.
	Sink Sink
}

// Kind is the command a trigger asks for.
type Kind string

const (
	KindHarvest Kind = "harvest"
	KindTend    Kind = "tend"
)

// Job is one command the keeper decided to submit.
type Job struct {
	Kind     Kind
	Strategy uuid.UUID
}

// Keeper evaluates every queued strategy's HarvestTrigger and TendTrigger on
// a schedule and enqueues Harvest/Tend commands on the keeper stream. A
// strategy that wants a harvest is not tended in the same round.
type Keeper struct {
	core    Core
	sink    Sink
	opts    Options
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(c Core, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var sink Sink = c
	if opts.Sink != nil {
		sink = opts.Sink
	}
	return &Keeper{
		core:    c,
		sink:    sink,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "keeper").Logger(),
	}
}

// Run ticks on the schedule until ctx is cancelled, then waits for a
// running tick to finish.
func (k *Keeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(k.opts.Schedule, func() {
		if _, err := k.Tick(ctx); err != nil && ctx.Err() == nil {
			k.logger.Error().Err(err).Msg("keeper tick failed")
		}
	}); err != nil {
		return fmt.Errorf("keeper schedule %q: %w", k.opts.Schedule, err)
	}

	c.Start()
	k.logger.Info().Str("schedule", k.opts.Schedule).Int64("call_cost", k.opts.CallCost).Msg("keeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	k.logger.Info().Msg("keeper stopped")
	return nil
}

// Tick runs one evaluation round and returns the jobs it enqueued.
func (k *Keeper) Tick(ctx context.Context) ([]Job, error) {
	var (
		jobs    []Job
		nextSeq int64
		coreNow time.Time
	)
	err := k.core.View(ctx, func(c *core.DeterministicCore) {
		jobs = k.evaluate(c)
		nextSeq = c.ExpectedSequence(event.StreamKeeper)
		coreNow = c.Now()
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate triggers: %w", err)
	}

	// The core clock never goes back; stamping behind it only loses
	// precision in the log.
	ts := k.opts.Now().UTC()
	if ts.Before(coreNow) {
		ts = coreNow
	}

	submitted := make([]Job, 0, len(jobs))
	for i, job := range jobs {
		seq := nextSeq + int64(i)
		meta := event.Meta{
			CommandID:   fmt.Sprintf("keeper:%s:%s:%d", job.Kind, job.Strategy, seq),
			Sequence:    seq,
			TimestampUs: ts.UnixMicro(),
		}
		var evt event.Event
		switch job.Kind {
		case KindHarvest:
			evt = &event.Harvest{Meta: meta, Strategy: job.Strategy}
		case KindTend:
			evt = &event.Tend{Meta: meta, Strategy: job.Strategy}
		}

		if err := k.sink.Enqueue(ctx, evt); err != nil {
			if k.metrics != nil {
				k.metrics.KeeperErrors.WithLabelValues(string(job.Kind)).Inc()
			}
			return submitted, fmt.Errorf("enqueue %s %s: %w", job.Kind, job.Strategy, err)
		}
		if k.metrics != nil {
			k.metrics.KeeperSubmitted.WithLabelValues(string(job.Kind)).Inc()
		}
		k.logger.Info().
			Str("kind", string(job.Kind)).
			Str("strategy_id", job.Strategy.String()).
			Int64("source_sequence", seq).
			Msg("keeper submitted")
		submitted = append(submitted, job)
	}
	return submitted, nil
}

// evaluate runs on the core goroutine.
func (k *Keeper) evaluate(c *core.DeterministicCore) []Job {
	v := c.Vault()
	var jobs []Job
	for _, id := range v.Queue() {
		ad, ok := v.Adapter(id)
		if !ok {
			continue
		}
		callCost := k.opts.CallCost
		if o, ok := k.opts.Overrides[id]; ok {
			if o.Paused {
				continue
			}
			if o.CallCost > 0 {
				callCost = o.CallCost
			}
		}

		switch {
		case ad.HarvestTrigger(callCost):
			jobs = append(jobs, Job{Kind: KindHarvest, Strategy: id})
		case ad.TendTrigger(callCost):
			jobs = append(jobs, Job{Kind: KindTend, Strategy: id})
		default:
			continue
		}
		if k.metrics != nil {
			k.metrics.KeeperTriggers.WithLabelValues(string(jobs[len(jobs)-1].Kind), id.String()).Inc()
		}
	}
	return jobs
}
