package csblob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Verify checks that the stored entitlements digest matches the unmodified
// entitlements blob. It must pass before anything is mutated.
func Verify(s *Snapshot) error {
	sum := sha256.Sum256(s.Entitlements)
	if !bytes.Equal(s.slot, sum[:]) {
		return newError(KindAuthenticity, "%w: slot holds %s, blob hashes to %s",
			ErrDigestMismatch, hex.EncodeToString(s.slot), hex.EncodeToString(sum[:]))
	}
	return nil
}

// UpdateDigest recomputes the digest over the (mutated) entitlements blob
// and stores it in the snapshot's slot.
func UpdateDigest(s *Snapshot) [32]byte {
	sum := sha256.Sum256(s.Entitlements)
	copy(s.slot, sum[:])
	return sum
}
