package hubauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearthhome/hubauth/provider"
)

// UserStore persists users, their credentials, and refresh tokens.
// Implementations resolve the User reference of each refresh token while
// loading. The in-memory registry stays authoritative at runtime; a
// configured store is read once at construction and written through on
// every mutation after that.
type UserStore interface {
	LoadAll(ctx context.Context) ([]*User, []*RefreshToken, error)
	SaveUser(ctx context.Context, user *User) error
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, id string) error
}

// Store is the registry of users, credentials, and refresh tokens. Every
// mutation runs under one lock, so two flows resolving the same fresh
// identity at the same time cannot mint two users for it.
type Store struct {
	mu        sync.RWMutex
	users     []*User
	usersByID map[string]*User
	credsByID map[string]*Credentials
	credOwner map[string]*User
	credByRef map[provider.Key]map[string]*Credentials
	refresh   map[string]*RefreshToken

	backend UserStore
	newID   func() string
}

// NewStore builds a registry, seeded from backend when one is given.
func NewStore(ctx context.Context, backend UserStore) (*Store, error) {
	s := &Store{
		usersByID: make(map[string]*User),
		credsByID: make(map[string]*Credentials),
		credOwner: make(map[string]*User),
		credByRef: make(map[provider.Key]map[string]*Credentials),
		refresh:   make(map[string]*RefreshToken),
		backend:   backend,
		newID:     uuid.NewString,
	}
	if backend == nil {
		return s, nil
	}

	users, tokens, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading user store: %w", err)
	}
	for _, u := range users {
		s.indexUser(u)
	}
	for _, rt := range tokens {
		if rt.User == nil {
			log.Warn().Str("refresh_token_id", rt.ID).Msg("Dropping refresh token without a user")
			continue
		}
		s.refresh[rt.ID] = rt
	}
	log.Info().
		Int("users", len(s.users)).
		Int("refresh_tokens", len(s.refresh)).
		Msg("User store loaded")
	return s, nil
}

func (s *Store) indexUser(u *User) {
	s.users = append(s.users, u)
	s.usersByID[u.ID] = u
	for _, c := range u.Credentials {
		c.IsNew = false
		s.indexCredentials(c)
		s.credOwner[c.ID] = u
	}
}

func (s *Store) indexCredentials(c *Credentials) {
	s.credsByID[c.ID] = c
	if c.IdentityKey == "" {
		return
	}
	key := provider.Key{Type: c.ProviderType, ID: c.ProviderID}
	byKey := s.credByRef[key]
	if byKey == nil {
		byKey = make(map[string]*Credentials)
		s.credByRef[key] = byKey
	}
	byKey[c.IdentityKey] = c
}

// adopt indexes credentials the registry has never issued, which happens
// when callers build them by hand instead of going through a login flow.
func (s *Store) adopt(c *Credentials) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if _, ok := s.credsByID[c.ID]; !ok {
		s.indexCredentials(c)
	}
}

// GetOrCreateCredentials returns the credentials the provider has already
// issued for this identity, or mints a fresh object. IsNew is true exactly
// once per identity, on the call that created the object.
func (s *Store) GetOrCreateCredentials(key provider.Key, identity *provider.Identity) *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.credByRef[key][identity.Key]; ok {
		c.IsNew = false
		return c
	}

	data := make(map[string]string, len(identity.Data))
	for k, v := range identity.Data {
		data[k] = v
	}
	c := &Credentials{
		ID:           s.newID(),
		ProviderType: key.Type,
		ProviderID:   key.ID,
		IdentityKey:  identity.Key,
		Data:         data,
		IsNew:        true,
	}
	s.indexCredentials(c)
	return c
}

// ResolveUser returns the user the credentials are linked to, creating and
// linking a new user when no link exists yet. The first user ever created
// is the hub owner and is always active. The second return reports whether
// a user was created by this call.
func (s *Store) ResolveUser(ctx context.Context, c *Credentials, name string, newUsersActive bool) (*User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adopt(c)
	if u, ok := s.credOwner[c.ID]; ok {
		c.IsNew = false
		return u, false, nil
	}

	owner := len(s.users) == 0
	u := &User{
		ID:          s.newID(),
		Name:        name,
		IsOwner:     owner,
		IsActive:    owner || newUsersActive,
		Credentials: []*Credentials{c},
	}
	if err := s.saveUser(ctx, u); err != nil {
		return nil, false, err
	}
	s.users = append(s.users, u)
	s.usersByID[u.ID] = u
	s.credOwner[c.ID] = u
	c.IsNew = false
	return u, true, nil
}

// LinkUser attaches credentials to the user. Credentials owned by a
// different user are rejected with ErrAlreadyLinked and nothing changes.
// Linking the same pair twice is a no-op.
func (s *Store) LinkUser(ctx context.Context, user *User, c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[user.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, user.ID)
	}
	s.adopt(c)
	if owner, linked := s.credOwner[c.ID]; linked {
		if owner == u {
			return nil
		}
		return ErrAlreadyLinked
	}

	u.Credentials = append(u.Credentials, c)
	if err := s.saveUser(ctx, u); err != nil {
		u.Credentials = u.Credentials[:len(u.Credentials)-1]
		return err
	}
	s.credOwner[c.ID] = u
	c.IsNew = false
	return nil
}

// CreateRefreshToken mints a refresh token for the user and client pair.
func (s *Store) CreateRefreshToken(ctx context.Context, user *User, clientID string, now time.Time) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[user.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, user.ID)
	}
	rt := &RefreshToken{
		ID:        s.newID(),
		User:      u,
		ClientID:  clientID,
		CreatedAt: now,
	}
	if s.backend != nil {
		if err := s.backend.SaveRefreshToken(ctx, rt); err != nil {
			return nil, fmt.Errorf("persisting refresh token: %w", err)
		}
	}
	s.refresh[rt.ID] = rt
	return rt, nil
}

// RefreshTokenByID returns the refresh token, or nil when it was never
// issued or has been removed.
func (s *Store) RefreshTokenByID(id string) *RefreshToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh[id]
}

// RemoveRefreshToken revokes a refresh token. Removing an unknown id is a
// no-op.
func (s *Store) RemoveRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[id]; !ok {
		return nil
	}
	if s.backend != nil {
		if err := s.backend.DeleteRefreshToken(ctx, id); err != nil {
			return fmt.Errorf("deleting refresh token: %w", err)
		}
	}
	delete(s.refresh, id)
	return nil
}

// Users returns a snapshot of all users in creation order.
func (s *Store) Users() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, len(s.users))
	copy(out, s.users)
	return out
}

// UserByID returns the user, or nil when the id is unknown.
func (s *Store) UserByID(id string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByID[id]
}

func (s *Store) saveUser(ctx context.Context, u *User) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("persisting user %s: %w", u.ID, err)
	}
	return nil
}
