// Package hashx computes stable content fingerprints used by the storage
// optimizer to detect duplicate items.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lower-cases the text and collapses all whitespace runs (including
// line breaks) to single spaces, so cosmetic differences do not defeat
// duplicate detection.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint returns a hex-encoded SHA-256 of the normalized content.
// Identical fingerprints mean identical normalized content for any practical
// store size.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}
