// Package password provides the hashing used by providers that keep
// password material in their own configuration.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes login passwords and verifies submissions against a stored
// hash.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hashed, password string) error
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a BcryptHasher. A cost <= 0 falls back to
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash generates a bcrypt hash of password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(out), nil
}

// Verify compares a stored bcrypt hash with a submitted password. It returns
// nil when they match, bcrypt.ErrMismatchedHashAndPassword otherwise.
func (h *BcryptHasher) Verify(hashed, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}

var _ Hasher = (*BcryptHasher)(nil)
