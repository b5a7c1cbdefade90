// Package ident issues submission identifiers.
//
// Identifiers end up in externally retrievable artifact names, so they come
// from crypto/rand and never from a clock or counter.
package ident

import (
	"crypto/rand"
	"encoding/hex"
)

// DefaultLength is the number of hex characters in a generated identifier.
const DefaultLength = 32

// New returns a random lowercase hex string of the given length.
// A non-positive length selects DefaultLength.
func New(length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic("ident: reading random source: " + err.Error())
	}
	return hex.EncodeToString(buf)[:length]
}

// Resolve returns the caller-supplied id verbatim, or a fresh one when empty.
// Uniqueness of supplied ids is enforced by the evaluation ledger, not here.
func Resolve(supplied string) string {
	if supplied != "" {
		return supplied
	}
	return New(DefaultLength)
}
