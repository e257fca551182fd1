package ingestion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
)

// Submitter applies a command synchronously.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.CoreOutput, error)
}

// GRPCIngestService provides admin command injection via gRPC and the HTTP
// gateway. It is for operators and tests, not for high-throughput ingestion
// (use NATS for that).
type GRPCIngestService struct {
	submitter Submitter
}

func NewGRPCIngestService(submitter Submitter) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter}
}

// CommandReceipt reports what the core did with a submitted command.
type CommandReceipt struct {
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
	StateHash string `json:"state_hash,omitempty"`
	Result    any    `json:"result,omitempty"`
	Rejection string `json:"rejection,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SubmitCommand parses, applies and reports on one command. Rejections by
// the core are returned in the receipt, not as an error; the error is for
// malformed input and transport failures.
func (s *GRPCIngestService) SubmitCommand(ctx context.Context, eventType string, data []byte) (*CommandReceipt, error) {
	evt, err := ParseCommand(eventType, data)
	if err != nil {
		return nil, err
	}

	out, err := s.submitter.Submit(ctx, evt)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrSequencerStopped):
		return nil, fmt.Errorf("submit %s: %w", evt.IdempotencyKey(), err)
	case err != nil:
		return &CommandReceipt{Rejection: core.RejectReason(err), Error: err.Error()}, nil
	case out == nil:
		return &CommandReceipt{Duplicate: true}, nil
	}

	return &CommandReceipt{
		Applied:   true,
		Sequence:  out.Envelope.Sequence,
		StateHash: hex.EncodeToString(out.Envelope.StateHash[:]),
		Result:    out.Envelope.Result,
	}, nil
}
