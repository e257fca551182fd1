package recovery

import (
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/persistence"

	"github.com/google/uuid"
)

// ToSnapshotData converts the core's typed snapshot into its stored form.
func ToSnapshotData(s *core.SnapshotState, createdAt time.Time) *persistence.SnapshotData {
	data := &persistence.SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make(map[string]int64, len(s.Balances)),
		Vault:           s.Vault,
		Pools:           make(map[string]persistence.PoolSnap, len(s.Pools)),
		Stakers:         s.Stakers,
		Clock:           s.Clock,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, balance := range s.Balances {
		data.Balances[key.AccountPath()] = balance
	}
	for id, p := range s.Pools {
		data.Pools[id.String()] = persistence.PoolSnap{Terms: p.Terms, State: p.State}
	}
	return data
}

// ToCoreState converts a stored snapshot back into the core's typed form.
func ToCoreState(d *persistence.SnapshotData) (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Vault:           d.Vault,
		Pools:           make(map[uuid.UUID]core.PoolSnapshot, len(d.Pools)),
		Stakers:         d.Stakers,
		Clock:           d.Clock,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: balance %q: %w", d.Sequence, path, err)
		}
		s.Balances[key] = balance
	}
	for raw, p := range d.Pools {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: pool %q: %w", d.Sequence, raw, err)
		}
		s.Pools[id] = core.PoolSnapshot{Terms: p.Terms, State: p.State}
	}
	return s, nil
}
