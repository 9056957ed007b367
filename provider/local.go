package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/hearthhome/hubauth/internal/password"
)

// TypeLocal is the config type string of the bcrypt-backed local provider.
const TypeLocal = "local"

func init() {
	Register(TypeLocal, NewLocal)
}

type localUser struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Name         string `mapstructure:"name"`
}

// Local validates logins against bcrypt hashes embedded in its config
// entry. Hashes come from the hash-password CLI command.
type Local struct {
	base
	hasher password.Hasher
	users  []localUser
}

// NewLocal builds a Local provider. Every entry needs a username and a
// parseable bcrypt password_hash.
func NewLocal(cfg Config) (Provider, error) {
	raw, ok := cfg.Extra["users"]
	if !ok {
		return nil, errors.New(`missing required field "users"`)
	}
	var users []localUser
	if err := mapstructure.Decode(raw, &users); err != nil {
		return nil, fmt.Errorf(`decoding "users": %w`, err)
	}
	for i, u := range users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("users[%d]: username and password_hash are required", i)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("users[%d]: password_hash is not a bcrypt hash: %w", i, err)
		}
	}
	return &Local{
		base:   base{typ: TypeLocal, id: cfg.ID, name: cfg.Name},
		hasher: password.NewBcryptHasher(0),
		users:  users,
	}, nil
}

// Schema describes the username/password form.
func (p *Local) Schema() []Field {
	return []Field{
		{Name: "username", Type: "string", Required: true},
		{Name: "password", Type: "password", Required: true},
	}
}

// Authenticate verifies the submitted password against the stored hash.
func (p *Local) Authenticate(_ context.Context, input map[string]string) (*Identity, error) {
	username := input["username"]
	for _, u := range p.users {
		if u.Username != username {
			continue
		}
		if err := p.hasher.Verify(u.PasswordHash, input["password"]); err != nil {
			return nil, ErrInvalidAuth
		}
		data := map[string]string{"username": u.Username}
		if u.Name != "" {
			data["name"] = u.Name
		}
		return &Identity{Key: u.Username, Data: data}, nil
	}
	return nil, ErrInvalidAuth
}

var _ Provider = (*Local)(nil)
