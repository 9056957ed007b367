// Package cache holds the stores access tokens live in between issuance and
// expiry. A store only keeps entries; the decision whether a token is still
// live is made by the caller on every read, against its own clock.
package cache

import (
	"context"
	"time"
)

// Entry is the stored form of one access token. The bearer string itself is
// never stored; entries are keyed by the HashToken digest of it, and the
// owning refresh token is referenced by id.
type Entry struct {
	RefreshTokenID string
	UserID         string
	ClientID       string
	CreatedAt      time.Time
}

// TokenStore keeps issued access tokens until they expire. Implementations
// bound their own growth with per-entry lifetimes; they never decide
// liveness.
type TokenStore interface {
	Put(ctx context.Context, token string, e Entry) error
	Get(ctx context.Context, token string) (Entry, bool, error)
	Delete(ctx context.Context, token string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
