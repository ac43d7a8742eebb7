package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed anchors the state-hash chain. Changing it invalidates
// every recorded hash.
const GenesisHashSeed = "TroveLedger:genesis:v1"

// StateHasher maintains the chained state hash:
// hash(n) = SHA-256(hash(n-1) || sequence_le || state_digest).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash chains the digest for the given sequence and advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	buf := make([]byte, 0, 32+8+len(stateDigest))
	buf = append(buf, h.prevHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, stateDigest...)

	hash := sha256.Sum256(buf)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash overwrites the chain tip, used on snapshot restore.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
