// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Prefixes for internal record IDs.
const (
	PrefixWallet  = "wlt_"
	PrefixOrder   = "po_"
	PrefixAttempt = "att_"
	PrefixTicket  = "ert_"
)

// WithPrefix generates a random ID with a prefix (e.g. "wlt_", "po_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Reference returns a new external order reference (random UUID).
func Reference() string {
	return uuid.NewString()
}

// IsReference reports whether s parses as an external order reference.
func IsReference(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
