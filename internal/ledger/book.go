package ledger

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidTransfer     = errors.New("ledger: invalid transfer")
)

// journalNamespace seeds deterministic journal and batch IDs so a replayed
// command produces the same identifiers.
var journalNamespace = uuid.MustParse("6f1d2c1e-4b8a-4c55-9d0e-2f7f3c7a9b10")

// Book applies transfers to a BalanceTracker immediately and records each one
// as a journal of the command currently being processed. Not thread-safe.
type Book struct {
	tracker *BalanceTracker

	eventRef  string
	sequence  int64
	timestamp int64
	pending   []Journal
}

func NewBook(tracker *BalanceTracker) *Book {
	return &Book{tracker: tracker}
}

// Tracker exposes the underlying balances.
func (b *Book) Tracker() *BalanceTracker {
	return b.tracker
}

// Begin stamps subsequent journals with the command being processed.
func (b *Book) Begin(eventRef string, sequence, timestampMicros int64) {
	b.eventRef = eventRef
	b.sequence = sequence
	b.timestamp = timestampMicros
	b.pending = b.pending[:0]
}

// Balance returns the balance of an account.
func (b *Book) Balance(key AccountKey) int64 {
	return b.tracker.GetBalance(key)
}

// Transfer moves amount from one account to another. Internal accounts may
// not go negative; external accounts absorb the other side of flows crossing
// the ledger boundary. A zero amount is a no-op.
func (b *Book) Transfer(from, to AccountKey, amount int64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidTransfer, amount)
	}
	if from == to {
		return fmt.Errorf("%w: self transfer on %s", ErrInvalidTransfer, from.AccountPath())
	}
	if from.AssetID != to.AssetID {
		return fmt.Errorf("%w: %s -> %s crosses assets", ErrInvalidTransfer, from.AccountPath(), to.AccountPath())
	}
	if !from.IsExternal() {
		if have := b.tracker.GetBalance(from); have < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from.AccountPath(), have, amount)
		}
	}

	idx := len(b.pending)
	j := Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(b.eventRef+"/"+strconv.Itoa(idx))),
		BatchID:       b.batchID(),
		EventRef:      b.eventRef,
		Sequence:      b.sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       from.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.timestamp,
	}
	b.tracker.ApplyJournal(j)
	b.pending = append(b.pending, j)
	return nil
}

// Checkpoint marks the current position in the pending journal list.
func (b *Book) Checkpoint() int {
	return len(b.pending)
}

// Rewind reverts every journal recorded after checkpoint, newest first.
func (b *Book) Rewind(checkpoint int) {
	for i := len(b.pending) - 1; i >= checkpoint; i-- {
		b.tracker.RevertJournal(b.pending[i])
	}
	b.pending = b.pending[:checkpoint]
}

// Drain returns the journals recorded since Begin as a batch and clears
// them. Returns nil when the command moved nothing.
func (b *Book) Drain() *Batch {
	if len(b.pending) == 0 {
		return nil
	}
	batch := &Batch{
		BatchID:   b.batchID(),
		EventRef:  b.eventRef,
		Sequence:  b.sequence,
		Timestamp: b.timestamp,
		Journals:  make([]Journal, len(b.pending)),
	}
	copy(batch.Journals, b.pending)
	b.pending = b.pending[:0]
	return batch
}

func (b *Book) batchID() uuid.UUID {
	return uuid.NewSHA1(journalNamespace, []byte(b.eventRef+"/batch"))
}
