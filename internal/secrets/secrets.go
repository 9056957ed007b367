// Package secrets generates the opaque random strings the manager hands out
// as bearer tokens. Values are URL safe and carry enough entropy to be
// unguessable.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the entropy, in bytes, behind each generated token.
const TokenBytes = 32

// NewToken returns a fresh random bearer string.
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
