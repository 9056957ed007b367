package hubauth

import "time"

// AccessTokenTTL is the default lifetime of an access token.
const AccessTokenTTL = 30 * time.Minute

// RefreshToken is the long-lived root of trust for one user and client
// pairing. It carries no expiry; it lives until it is removed.
type RefreshToken struct {
	ID        string    `json:"id"`
	User      *User     `json:"-"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessToken is a short-lived bearer credential minted from a refresh
// token. Nothing marks it expired in storage; liveness is recomputed from
// the clock on every read.
type AccessToken struct {
	Token        string        `json:"token"`
	RefreshToken *RefreshToken `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"-"`
}

// Expired reports whether the token is past its lifetime at now. A token
// exactly at the boundary is expired. A zero TTL means AccessTokenTTL.
func (t *AccessToken) Expired(now time.Time) bool {
	ttl := t.TTL
	if ttl == 0 {
		ttl = AccessTokenTTL
	}
	return now.Sub(t.CreatedAt) >= ttl
}
