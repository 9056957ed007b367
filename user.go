package hubauth

// Credentials records one identity a provider has verified. Data is the
// provider's own payload; by convention it carries "username" and, when the
// provider knows one, a display "name". IsNew is true only on the call that
// first produced the object, so callers can tell a first login from a
// repeat one.
type Credentials struct {
	ID           string            `json:"id"`
	ProviderType string            `json:"auth_provider_type"`
	ProviderID   string            `json:"auth_provider_id"`
	IdentityKey  string            `json:"-"`
	Data         map[string]string `json:"data"`
	IsNew        bool              `json:"is_new"`
}

// User is a hub account. A user owns any number of credentials, each from a
// different provider login, and all of them resolve back to it.
type User struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	IsOwner     bool           `json:"is_owner"`
	IsActive    bool           `json:"is_active"`
	Credentials []*Credentials `json:"credentials,omitempty"`
}
