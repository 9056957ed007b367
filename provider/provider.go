// Package provider defines the pluggable authentication providers the hub
// core drives during login. A provider validates one class of identity
// assertion (a static user pool, bcrypt-hashed local accounts, an LDAP
// directory) and is addressed by its (type, id) pair. Implementations are
// registered once, by type string, and resolved at manager construction.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInvalidAuth reports that submitted input did not match any known
	// identity. Login flows translate it into a form retry, never a crash.
	ErrInvalidAuth = errors.New("invalid authentication")

	// ErrUnavailable reports that the backing identity source could not be
	// reached. Login flows abort on it.
	ErrUnavailable = errors.New("auth provider unavailable")

	// ErrUnknownType reports a config entry naming a type nobody registered.
	ErrUnknownType = errors.New("unknown auth provider type")
)

// Key addresses one configured provider instance. An empty ID denotes the
// default instance of the type.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Type
	}
	return k.Type + "." + k.ID
}

// Config is one entry of the ordered provider list the manager is built
// from. Type and Name are required. Extra carries the provider-specific
// fields and is interpreted by the factory for Type.
type Config struct {
	Type  string
	ID    string
	Name  string
	Extra map[string]any
}

// Key returns the (type, id) pair this config declares.
func (c Config) Key() Key { return Key{Type: c.Type, ID: c.ID} }

// ConfigFromMap splits a raw decoded config object into the well-known
// fields and the provider-specific remainder.
func ConfigFromMap(m map[string]any) Config {
	cfg := Config{Extra: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case "type":
			cfg.Type, _ = v.(string)
		case "id":
			cfg.ID, _ = v.(string)
		case "name":
			cfg.Name, _ = v.(string)
		default:
			cfg.Extra[k] = v
		}
	}
	return cfg
}

// Field describes one input of a provider's login form.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string" or "password"
	Required bool   `json:"required"`
}

// Identity is one successfully validated assertion. Key is stable and
// unique within the provider instance; Data is the opaque payload copied
// onto the resulting credentials (by convention "username", plus "name"
// when the provider knows a display name).
type Identity struct {
	Key  string
	Data map[string]string
}

// Provider validates login attempts for one configured identity source.
// Implementations are immutable after construction and know nothing about
// other providers or the manager's user store.
type Provider interface {
	// Type returns the registered type string.
	Type() string
	// ID returns the instance id, "" for the default instance of the type.
	ID() string
	// Name returns the human-readable name from the config.
	Name() string
	// Schema describes the fields a login form must collect.
	Schema() []Field
	// Authenticate validates one submission. It returns ErrInvalidAuth when
	// the input matches no known identity and ErrUnavailable when the
	// backing source cannot be consulted.
	Authenticate(ctx context.Context, input map[string]string) (*Identity, error)
}

// Factory builds a provider from its validated common fields plus the raw
// provider-specific ones. Factories reject bad Extra content with a
// descriptive error; the manager turns that into a fatal config error.
type Factory func(cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a provider type available to New. It panics on a duplicate
// type string, which is a programming error.
func Register(ptype string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[ptype]; dup {
		panic("provider: Register called twice for type " + ptype)
	}
	registry[ptype] = f
}

// New builds the provider described by cfg. It validates the common
// required fields before dispatching to the registered factory.
func New(cfg Config) (Provider, error) {
	if cfg.Type == "" {
		return nil, errors.New(`missing required field "type"`)
	}
	if cfg.Name == "" {
		return nil, errors.New(`missing required field "name"`)
	}

	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownType, cfg.Type, Types())
	}
	return f(cfg)
}

// Types lists the registered provider types in sorted order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// base carries the common read-only fields of the built-in providers.
type base struct {
	typ  string
	id   string
	name string
}

func (b base) Type() string { return b.typ }
func (b base) ID() string   { return b.id }
func (b base) Name() string { return b.name }
