package core

import (
	"context"
	"errors"

	"VaultLedger/internal/event"

	"github.com/rs/zerolog"
)

var ErrSequencerStopped = errors.New("sequencer stopped")

// Submission is one command queued for the core. Done, when set, receives
// the result once the command has been applied or rejected.
type Submission struct {
	Event event.Event
	Done  chan<- SubmitResult
}

type SubmitResult struct {
	Output *CoreOutput
	Err    error
}

// Sequencer owns the goroutine that drives the DeterministicCore. Every
// ingress path (NATS, gRPC, keeper) submits through it, and readers that
// need live core state run inside it via View.
type Sequencer struct {
	core     *DeterministicCore
	commands chan Submission
	views    chan func(*DeterministicCore)
	logger   zerolog.Logger
	done     chan struct{}
}

func NewSequencer(core *DeterministicCore, queueSize int, logger zerolog.Logger) *Sequencer {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Sequencer{
		core:     core,
		commands: make(chan Submission, queueSize),
		views:    make(chan func(*DeterministicCore)),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run applies submissions in arrival order until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub := <-s.commands:
			out, err := s.core.Apply(sub.Event)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("event_type", sub.Event.EventType().String()).
					Str("command_id", sub.Event.IdempotencyKey()).
					Msg("command rejected")
			}
			if sub.Done != nil {
				sub.Done <- SubmitResult{Output: out, Err: err}
			}

		case fn := <-s.views:
			fn(s.core)
		}
	}
}

// Enqueue queues evt without waiting for the outcome. It blocks while the
// queue is full, which pushes back on the caller.
func (s *Sequencer) Enqueue(ctx context.Context, evt event.Event) error {
	if s.stopped() {
		return ErrSequencerStopped
	}
	select {
	case s.commands <- Submission{Event: evt}:
		return nil
	case <-s.done:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues evt and waits for the core's verdict. A nil output with a
// nil error means the command was a duplicate.
func (s *Sequencer) Submit(ctx context.Context, evt event.Event) (*CoreOutput, error) {
	if s.stopped() {
		return nil, ErrSequencerStopped
	}
	done := make(chan SubmitResult, 1)
	select {
	case s.commands <- Submission{Event: evt, Done: done}:
	case <-s.done:
		return nil, ErrSequencerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-done:
		return res.Output, res.Err
	case <-s.done:
		return nil, ErrSequencerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View runs fn on the core goroutine. fn must not retain the core.
func (s *Sequencer) View(ctx context.Context, fn func(*DeterministicCore)) error {
	if s.stopped() {
		return ErrSequencerStopped
	}
	finished := make(chan struct{})
	wrapped := func(c *DeterministicCore) {
		defer close(finished)
		fn(c)
	}
	select {
	case s.views <- wrapped:
	case <-s.done:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (s *Sequencer) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
