package engine

import (
	"crypto/rand"
	"fmt"
)

// clientPrefix is the Azureus-style client identification spec.md §4.7
// requires ("-CO0001-", standing in for a "coast"-inspired Go leecher).
const clientPrefix = "-CO0001-"

// generatePeerID returns a fresh 20-byte client peer id: the 8-byte
// clientPrefix followed by 12 random hex characters (spec.md §4.7, §8
// scenario 3).
func generatePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], clientPrefix)

	var randBytes [6]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return id, fmt.Errorf("engine: generate peer id: %w", err)
	}
	hexSuffix := fmt.Sprintf("%012x", randBytes)
	copy(id[len(clientPrefix):], hexSuffix)
	return id, nil
}
