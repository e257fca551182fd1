package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "VaultLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains per-command state digests:
//
//	hash[n] = SHA-256(hash[n-1] || big-endian sequence || digest[n])
//
// so a replay that diverges anywhere produces a different tip from then on.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// Next extends the chain and returns the new tip.
func (h *StateHasher) Next(sequence int64, digest []byte) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))

	d := sha256.New()
	d.Write(h.tip[:])
	d.Write(seq[:])
	d.Write(digest)
	d.Sum(h.tip[:0])
	return h.tip
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Resume continues the chain from a snapshot's tip.
func (h *StateHasher) Resume(tip [32]byte) { h.tip = tip }
