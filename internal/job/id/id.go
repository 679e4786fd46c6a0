// Package id generates opaque identifiers for jobs and for unique
// generated file names. Voice profile IDs come from voice.NewID instead.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

// Length is the fixed width, in hex characters, of a generated identifier.
const Length = 12

// Generate returns a fresh 12-character hex identifier.
// Collisions are not checked; callers relying on process-lifetime
// uniqueness should treat a collision as astronomically unlikely.
func Generate() string {
	raw := make([]byte, Length/2)
	if _, err := rand.Read(raw); err != nil {
		panic("id: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(raw)
}
