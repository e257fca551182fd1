package core

import (
	"errors"
	"fmt"
	"maps"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order command")

	// ErrStaleSequence reports a command older than a lenient stream's cursor.
	ErrStaleSequence = errors.New("stale source sequence")
)

// SequenceError carries the partition cursor a command failed against. It
// unwraps to ErrSequenceGap, ErrOutOfOrder or ErrStaleSequence.
type SequenceError struct {
	Kind      error
	Partition string
	Expected  int64
	Got       int64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%v: partition=%s, expected=%d, got=%d", e.Kind, e.Partition, e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error { return e.Kind }

// SequenceValidator keeps the next expected source sequence per partition.
// Only the core goroutine touches it.
type SequenceValidator struct {
	next map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{next: make(map[string]int64)}
}

// ValidateSequence enforces a gapless stream. A redelivered command below
// the cursor passes when isDuplicate, so the caller can drop it quietly.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.next[partition]
	switch {
	case sourceSequence == expected:
		sv.next[partition] = expected + 1
		return nil
	case sourceSequence < expected && isDuplicate:
		return nil
	case sourceSequence < expected:
		return &SequenceError{Kind: ErrOutOfOrder, Partition: partition, Expected: expected, Got: sourceSequence}
	default:
		return &SequenceError{Kind: ErrSequenceGap, Partition: partition, Expected: expected, Got: sourceSequence}
	}
}

// ValidateLenientSequence accepts gaps and moves the cursor past them. It
// reports whether a gap was skipped, and ErrStaleSequence for a number
// below the cursor.
func (sv *SequenceValidator) ValidateLenientSequence(partition string, sourceSequence int64) (skipped bool, err error) {
	expected := sv.next[partition]
	if sourceSequence < expected {
		return false, &SequenceError{Kind: ErrStaleSequence, Partition: partition, Expected: expected, Got: sourceSequence}
	}
	sv.next[partition] = sourceSequence + 1
	return sourceSequence > expected, nil
}

func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.next[partition]
}

// SetExpectedSequence restores a cursor from a snapshot.
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.next[partition] = seq
}

// GetAllPartitions copies every cursor.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	return maps.Clone(sv.next)
}
