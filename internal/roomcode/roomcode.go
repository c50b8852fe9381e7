// Package roomcode generates the short opaque codes that identify rooms.
package roomcode

import (
	"crypto/rand"
	"log"
	"math/big"
)

// Length of a generated room code.
const Length = 8

// Lowercase letters and digits, minus the lookalikes (l, o, 0, 1) so codes
// survive being read aloud.
const alphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// New returns a fresh random room code. Uniqueness is probabilistic; callers
// that require it re-roll on collision.
func New() string {
	code := make([]byte, Length)
	for i := range code {
		code[i] = alphabet[randomIndex(len(alphabet))]
	}
	return string(code)
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic("Failed to generate random index:", err)
	}
	return int(n.Int64())
}
