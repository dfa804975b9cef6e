package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandByteArray returns size cryptographically random bytes.
// Panics if the system entropy source fails, which is not recoverable.
func GenerateRandByteArray(size int) []byte {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("rand.Read failed: %v", err))
	}
	return buf
}

// MakeRandHexString returns a hex string built from size random bytes
// (so the result is 2*size characters long).
func MakeRandHexString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rand.Read failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// WipeByteArray zeroes the buffer in place. Safe to call with nil.
func WipeByteArray(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
