package core

import (
	"fmt"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/strategy"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// --- Snapshot Restore & Startup Methods ---

// PoolSnapshot is one pool strategy's terms and local state.
type PoolSnapshot struct {
	Terms event.PoolTerms    `json:"terms"`
	State strategy.PoolState `json:"state"`
}

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Vault           vault.State
	Pools           map[uuid.UUID]PoolSnapshot
	Stakers         []uuid.UUID
	Clock           time.Time
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	pools := make(map[uuid.UUID]PoolSnapshot, len(c.pools))
	for id, terms := range c.pools {
		p, err := c.pool(id)
		if err != nil {
			continue
		}
		pools[id] = PoolSnapshot{Terms: terms, State: p.State()}
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.Tip(),
		Balances:        c.balanceTracker.Snapshot(),
		Vault:           c.vault.Export(),
		Pools:           pools,
		Stakers:         c.venue.Stakers(),
		Clock:           c.clock.Now(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.recent.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores a freshly constructed core from a snapshot.
// Commands after snap.Sequence are then replayed through Apply.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if c.hasher.Tip() != GenesisHash() {
		return fmt.Errorf("restore: core already processed commands (seq %d)", c.sequence)
	}

	// Restore balances
	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.clock.Set(snap.Clock)

	// Rebuild pool adapters, then put the airdrop order back
	adapters := make(map[uuid.UUID]vault.StrategyAdapter, len(snap.Pools))
	pools := make(map[uuid.UUID]event.PoolTerms, len(snap.Pools))
	for id, ps := range snap.Pools {
		p, err := c.newPool(id, ps.Terms)
		if err != nil {
			return fmt.Errorf("restore pool %s: %w", id, err)
		}
		p.Restore(ps.State)
		adapters[id] = p
		pools[id] = ps.Terms
	}
	c.venue.RestoreStakers(snap.Stakers)

	if err := c.vault.Restore(snap.Vault, adapters); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	c.pools = pools

	// Restore state hash chain
	c.hasher.Resume(snap.StateHash)

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.WarmLRU(snap.IdempotencyKeys)

	c.sequence = snap.Sequence + 1 // Next sequence to assign
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed commands.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.recent.WarmFromKeys(keys)
}
