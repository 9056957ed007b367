package hubauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyLinked is returned when credentials are already linked to a
	// different user. The link attempt changes nothing.
	ErrAlreadyLinked = errors.New("credentials already linked to another user")

	// ErrUnknownProvider is returned for a login against a provider key
	// that is not configured.
	ErrUnknownProvider = errors.New("unknown auth provider")

	// ErrUnknownUser is returned for an operation on a user the manager
	// does not hold.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownRefreshToken is returned when minting an access token from
	// a refresh token that was never issued or has been removed.
	ErrUnknownRefreshToken = errors.New("unknown refresh token")
)

// ConfigError rejects a provider configuration at construction time. One
// bad entry fails the whole set: no manager is produced and no provider
// from the list is registered.
type ConfigError struct {
	Entry  int // index into the configured provider list
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth provider config entry %d: %s", e.Entry, e.Reason)
}
