package protocol

import (
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"
)

// GenerateIdentity creates a fresh private identifier and derives the public
// client identifier from it. The hub verifies the pair at login, so the
// derivation must be stable across restarts for a stored PID.
func GenerateIdentity() (pid, cid TTH, err error) {
	if _, err = rand.Read(pid[:]); err != nil {
		return pid, cid, fmt.Errorf("protocol: generate identity: %w", err)
	}
	return pid, DeriveCID(pid), nil
}

// DeriveCID computes the public client identifier for a private one.
func DeriveCID(pid TTH) TTH {
	sum := blake3.Sum256(pid[:])
	var cid TTH
	copy(cid[:], sum[:])
	return cid
}
