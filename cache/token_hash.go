package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken digests a bearer string into the fixed-size key entries are
// stored under. Raw tokens never sit in a store or a Redis dump.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
