// Package hubauth is the authentication core of the hub. It owns the
// configured auth providers, drives login flows against them, resolves the
// credentials a finished flow produced to a user account, and issues the
// refresh and access tokens callers authenticate with afterwards.
package hubauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hearthhome/hubauth/cache"
	"github.com/hearthhome/hubauth/flow"
	"github.com/hearthhome/hubauth/internal/audit"
	"github.com/hearthhome/hubauth/internal/metrics"
	"github.com/hearthhome/hubauth/internal/secrets"
	"github.com/hearthhome/hubauth/provider"
)

// Config wires a Manager.
type Config struct {
	// Providers is instantiated in declaration order. Construction fails on
	// the first invalid entry and no manager is returned, so a typo in one
	// provider cannot silently disable it.
	Providers []provider.Config

	// Users persists users and refresh tokens across restarts. Nil keeps
	// them in memory only.
	Users UserStore

	// Tokens holds issued access tokens. Nil selects an in-memory store
	// bounded by the access token lifetime.
	Tokens cache.TokenStore

	// AccessTokenTTL overrides the default access token lifetime.
	AccessTokenTTL time.Duration

	// FlowTTL and FlowCapacity bound pending login flows. Zero values pick
	// the flow package defaults.
	FlowTTL      time.Duration
	FlowCapacity uint64

	// NewUsersInactive creates every user after the owner disabled, until
	// an administrator activates them.
	NewUsersInactive bool

	// Clock supplies the current time. Nil means time.Now.
	Clock func() time.Time
}

// Manager ties providers, login flows, the user registry, and token
// issuance together. All methods are safe for concurrent use.
type Manager struct {
	providers []provider.Provider
	byKey     map[provider.Key]provider.Provider
	store     *Store
	flows     *flow.Registry
	tokens    cache.TokenStore
	ownTokens bool
	tokenTTL  time.Duration
	inactive  bool
	clock     func() time.Time
}

// NewManager validates the provider configuration, instantiates every
// provider, and loads persisted state. Any invalid entry fails the whole
// construction with a ConfigError naming the entry.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	providers := make([]provider.Provider, 0, len(cfg.Providers))
	byKey := make(map[provider.Key]provider.Provider, len(cfg.Providers))
	seen := make(map[provider.Key]int, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		key := pc.Key()
		if first, dup := seen[key]; dup {
			return nil, &ConfigError{
				Entry:  i,
				Reason: fmt.Sprintf("duplicate provider %s, first declared by entry %d", key, first),
			}
		}
		p, err := provider.New(pc)
		if err != nil {
			return nil, &ConfigError{Entry: i, Reason: err.Error()}
		}
		seen[key] = i
		byKey[key] = p
		providers = append(providers, p)
	}

	store, err := NewStore(ctx, cfg.Users)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tokenTTL := cfg.AccessTokenTTL
	if tokenTTL <= 0 {
		tokenTTL = AccessTokenTTL
	}
	flowTTL := cfg.FlowTTL
	if flowTTL <= 0 {
		flowTTL = flow.DefaultTTL
	}
	flowCap := cfg.FlowCapacity
	if flowCap == 0 {
		flowCap = flow.DefaultCapacity
	}
	tokens := cfg.Tokens
	ownTokens := false
	if tokens == nil {
		tokens = cache.NewMemoryTokenStore(tokenTTL)
		ownTokens = true
	}

	m := &Manager{
		providers: providers,
		byKey:     byKey,
		store:     store,
		flows:     flow.NewRegistry(flow.WithTTL(flowTTL), flow.WithCapacity(flowCap)),
		tokens:    tokens,
		ownTokens: ownTokens,
		tokenTTL:  tokenTTL,
		inactive:  cfg.NewUsersInactive,
		clock:     clock,
	}
	log.Info().Int("providers", len(providers)).Msg("Auth manager ready")
	return m, nil
}

// Providers returns the configured providers in declaration order.
func (m *Manager) Providers() []provider.Provider {
	out := make([]provider.Provider, len(m.providers))
	copy(out, m.providers)
	return out
}

// Provider returns the provider registered under (ptype, pid), where the
// empty pid selects the default instance of the type.
func (m *Manager) Provider(ptype, pid string) (provider.Provider, error) {
	key := provider.Key{Type: ptype, ID: pid}
	p, ok := m.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, key)
	}
	return p, nil
}

// Store exposes the user registry.
func (m *Manager) Store() *Store {
	return m.store
}

// AccessTokenTTL reports the lifetime applied to issued access tokens.
func (m *Manager) AccessTokenTTL() time.Duration {
	return m.tokenTTL
}

// StartLogin opens a login flow against one provider. The returned result
// carries the flow id; it is the provider's form unless the flow finished
// on its first step.
func (m *Manager) StartLogin(ctx context.Context, ptype, pid string) (flow.Result, error) {
	p, err := m.Provider(ptype, pid)
	if err != nil {
		return flow.Result{}, err
	}
	metrics.FlowsStartedTotal.Inc()
	res, err := m.flows.Start(ctx, &loginFlow{provider: p, store: m.store})
	if err != nil {
		return flow.Result{}, err
	}
	return m.observe(res), nil
}

// SubmitLogin advances a pending flow with the user's input. A terminal
// result retires the flow; submitting against an unknown, finished, or
// expired flow fails with flow.ErrUnknownFlow.
func (m *Manager) SubmitLogin(ctx context.Context, flowID string, input map[string]string) (flow.Result, error) {
	res, err := m.flows.Configure(ctx, flowID, input)
	if err != nil {
		return flow.Result{}, err
	}
	return m.observe(res), nil
}

// AbandonLogin drops a pending flow. Unknown ids are a no-op.
func (m *Manager) AbandonLogin(flowID string) {
	m.flows.Abandon(flowID)
}

// ActiveFlows reports how many login flows are waiting for input.
func (m *Manager) ActiveFlows() int {
	return m.flows.Len()
}

func (m *Manager) observe(res flow.Result) flow.Result {
	switch {
	case res.Type == flow.TypeCreateEntry:
		metrics.LoginSuccessTotal.Inc()
	case res.Type == flow.TypeAbort:
		metrics.LoginFailureTotal.Inc()
	case res.Type == flow.TypeForm && len(res.Errors) > 0:
		metrics.LoginFailureTotal.Inc()
	}
	return res
}

// ResolveUser returns the user behind resolved credentials, creating and
// linking a new account on first contact. The first user ever resolved
// becomes the hub owner and is always active.
func (m *Manager) ResolveUser(ctx context.Context, creds *Credentials) (*User, error) {
	if creds == nil {
		return nil, errors.New("nil credentials")
	}
	u, created, err := m.store.ResolveUser(ctx, creds, displayName(creds), !m.inactive)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.UsersCreatedTotal.Inc()
		log.Info().
			Str("user_id", u.ID).
			Bool("owner", u.IsOwner).
			Str("provider_type", creds.ProviderType).
			Msg("User created")
		audit.Log("AuthManager", "CreateUser", u.ID, creds.ID, "", true, nil)
	}
	return u, nil
}

// LinkUser attaches credentials to an existing user, so a second provider
// login lands on the same account. Credentials owned by a different user
// fail with ErrAlreadyLinked and nothing changes.
func (m *Manager) LinkUser(ctx context.Context, user *User, creds *Credentials) error {
	if user == nil || creds == nil {
		return errors.New("nil user or credentials")
	}
	if err := m.store.LinkUser(ctx, user, creds); err != nil {
		audit.Log("AuthManager", "LinkCredentials", user.ID, creds.ID, "", false, err)
		return err
	}
	audit.Log("AuthManager", "LinkCredentials", user.ID, creds.ID, "", true, nil)
	return nil
}

// CreateRefreshToken mints the long-lived token for a user and client
// pairing. Refresh tokens do not expire; they live until removed.
func (m *Manager) CreateRefreshToken(ctx context.Context, user *User, clientID string) (*RefreshToken, error) {
	if user == nil {
		return nil, errors.New("nil user")
	}
	rt, err := m.store.CreateRefreshToken(ctx, user, clientID, m.clock())
	if err != nil {
		return nil, err
	}
	audit.Log("AuthManager", "IssueRefreshToken", user.ID, rt.ID, clientID, true, nil)
	return rt, nil
}

// RefreshTokenByID returns the refresh token, or nil when it was never
// issued or has been removed.
func (m *Manager) RefreshTokenByID(id string) *RefreshToken {
	return m.store.RefreshTokenByID(id)
}

// RemoveRefreshToken revokes a refresh token. Access tokens minted from it
// die on their next lookup.
func (m *Manager) RemoveRefreshToken(ctx context.Context, id string) error {
	var userID string
	if rt := m.store.RefreshTokenByID(id); rt != nil {
		userID = rt.User.ID
	}
	if err := m.store.RemoveRefreshToken(ctx, id); err != nil {
		return err
	}
	if userID != "" {
		audit.Log("AuthManager", "RevokeRefreshToken", userID, id, "", true, nil)
	}
	return nil
}

// CreateAccessToken mints a short-lived bearer token from a refresh token.
func (m *Manager) CreateAccessToken(ctx context.Context, rt *RefreshToken) (*AccessToken, error) {
	if rt == nil || m.store.RefreshTokenByID(rt.ID) == nil {
		return nil, ErrUnknownRefreshToken
	}
	raw, err := secrets.NewToken()
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}
	at := &AccessToken{
		Token:        raw,
		RefreshToken: rt,
		CreatedAt:    m.clock(),
		TTL:          m.tokenTTL,
	}
	err = m.tokens.Put(ctx, raw, cache.Entry{
		RefreshTokenID: rt.ID,
		UserID:         rt.User.ID,
		ClientID:       rt.ClientID,
		CreatedAt:      at.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("storing access token: %w", err)
	}
	metrics.TokensIssuedTotal.Inc()
	return at, nil
}

// GetAccessToken returns the live token behind the opaque bearer string.
// An expired token, or one whose refresh token is gone, is evicted on
// lookup and returns (nil, nil); once evicted it never comes back.
func (m *Manager) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	entry, ok, err := m.tokens.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("looking up access token: %w", err)
	}
	if !ok {
		return nil, nil
	}

	at := &AccessToken{
		Token:     token,
		CreatedAt: entry.CreatedAt,
		TTL:       m.tokenTTL,
	}
	if at.Expired(m.clock()) {
		if derr := m.tokens.Delete(ctx, token); derr != nil {
			log.Warn().Err(derr).Msg("Failed to evict expired access token")
		}
		metrics.TokensExpiredTotal.Inc()
		return nil, nil
	}

	rt := m.store.RefreshTokenByID(entry.RefreshTokenID)
	if rt == nil {
		if derr := m.tokens.Delete(ctx, token); derr != nil {
			log.Warn().Err(derr).Msg("Failed to evict orphaned access token")
		}
		return nil, nil
	}
	at.RefreshToken = rt
	return at, nil
}

// Close stops the flow registry and any token store the manager owns.
func (m *Manager) Close() error {
	m.flows.Close()
	if m.ownTokens {
		return m.tokens.Close()
	}
	return nil
}

// displayName picks a human name for a fresh user from what the provider
// reported about the identity.
func displayName(c *Credentials) string {
	if n := c.Data["name"]; n != "" {
		return n
	}
	if n := c.Data["username"]; n != "" {
		return n
	}
	return "Unnamed User"
}
