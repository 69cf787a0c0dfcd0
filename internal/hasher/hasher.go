// Package hasher fingerprints text for content-based deduplication.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize trims text, collapses whitespace runs into single spaces and lower-cases it.
func Normalize(text string) string {
	return strings.ToLower(Collapse(text))
}

// Collapse trims text and collapses whitespace runs without changing case.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Hash returns the hex SHA-256 of the normalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
