package provider

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// TypeStatic is the config type string of the static user-pool provider.
const TypeStatic = "static"

func init() {
	Register(TypeStatic, NewStatic)
}

type staticUser struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// Static validates logins against a user pool embedded in its own config
// entry. Passwords are kept in plaintext, so it is meant for tests and
// first-boot setups.
type Static struct {
	base
	users []staticUser
}

// NewStatic builds a Static provider. The "users" list is required, though
// it may be empty; every entry needs both username and password.
func NewStatic(cfg Config) (Provider, error) {
	raw, ok := cfg.Extra["users"]
	if !ok {
		return nil, errors.New(`missing required field "users"`)
	}
	var users []staticUser
	if err := mapstructure.Decode(raw, &users); err != nil {
		return nil, fmt.Errorf(`decoding "users": %w`, err)
	}
	for i, u := range users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("users[%d]: username and password are required", i)
		}
	}
	return &Static{
		base:  base{typ: TypeStatic, id: cfg.ID, name: cfg.Name},
		users: users,
	}, nil
}

// Schema describes the username/password form.
func (p *Static) Schema() []Field {
	return []Field{
		{Name: "username", Type: "string", Required: true},
		{Name: "password", Type: "password", Required: true},
	}
}

// Authenticate matches the submission against the configured pool. The
// password compare is constant time.
func (p *Static) Authenticate(_ context.Context, input map[string]string) (*Identity, error) {
	username := input["username"]
	for _, u := range p.users {
		if u.Username != username {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.Password), []byte(input["password"])) != 1 {
			break
		}
		data := map[string]string{"username": u.Username}
		if u.Name != "" {
			data["name"] = u.Name
		}
		return &Identity{Key: u.Username, Data: data}, nil
	}
	return nil, ErrInvalidAuth
}

var _ Provider = (*Static)(nil)
