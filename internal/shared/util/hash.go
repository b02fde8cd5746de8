package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns a fixed-length hex digest of s, used for cache partitioning.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
