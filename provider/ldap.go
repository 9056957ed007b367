package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-viper/mapstructure/v2"
)

// TypeLDAP is the config type string of the directory-backed provider.
const TypeLDAP = "ldap"

func init() {
	Register(TypeLDAP, func(cfg Config) (Provider, error) {
		return NewLDAP(cfg, nil)
	})
}

// ErrLDAPUserNotFound is returned by LDAPClient.SearchUser when the filter
// matches no entry.
var ErrLDAPUserNotFound = errors.New("ldap user not found")

// defaultLDAPTimeout bounds directory operations when the caller's context
// carries no deadline.
const defaultLDAPTimeout = 30 * time.Second

type ldapConfig struct {
	ServerURL     string `mapstructure:"server_url"`
	StartTLS      bool   `mapstructure:"start_tls"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
	BindDN        string `mapstructure:"bind_dn"`
	BindPassword  string `mapstructure:"bind_password"`
	UserBaseDN    string `mapstructure:"user_base_dn"`
	UserFilter    string `mapstructure:"user_filter"`
	NameAttribute string `mapstructure:"name_attribute"`
}

// LDAPClient is the slice of the directory protocol the provider uses. One
// client serves one login attempt: Connect, bind and search, Close. A
// deadline on the Connect context bounds every operation on the
// connection.
type LDAPClient interface {
	Connect(ctx context.Context, url string, startTLS, skipTLSVerify bool) error
	Bind(username, password string) error
	SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error)
	Close()
}

// LDAP validates logins against an external directory: optional service
// bind, user search with an escaped filter, then a bind as the found entry.
type LDAP struct {
	base
	cfg       ldapConfig
	newClient func() LDAPClient
}

// NewLDAP builds an LDAP provider. newClient may be nil, in which case every
// login attempt dials the configured server; tests inject a fake.
func NewLDAP(cfg Config, newClient func() LDAPClient) (Provider, error) {
	var lc ldapConfig
	if err := mapstructure.Decode(cfg.Extra, &lc); err != nil {
		return nil, fmt.Errorf("decoding ldap fields: %w", err)
	}
	if lc.ServerURL == "" {
		return nil, errors.New(`missing required field "server_url"`)
	}
	if lc.UserBaseDN == "" {
		return nil, errors.New(`missing required field "user_base_dn"`)
	}
	if lc.UserFilter == "" {
		lc.UserFilter = "(uid=%s)"
	}
	if lc.NameAttribute == "" {
		lc.NameAttribute = "cn"
	}
	if newClient == nil {
		newClient = func() LDAPClient { return &realLDAPClient{} }
	}
	return &LDAP{
		base:      base{typ: TypeLDAP, id: cfg.ID, name: cfg.Name},
		cfg:       lc,
		newClient: newClient,
	}, nil
}

// Schema describes the username/password form.
func (p *LDAP) Schema() []Field {
	return []Field{
		{Name: "username", Type: "string", Required: true},
		{Name: "password", Type: "password", Required: true},
	}
}

// Authenticate verifies the submission by binding as the matched directory
// entry. Directory failures map to ErrUnavailable so the flow can abort
// instead of prompting a retry that cannot succeed.
func (p *LDAP) Authenticate(ctx context.Context, input map[string]string) (*Identity, error) {
	username := input["username"]
	// An empty password would be an anonymous bind, never a login.
	if username == "" || input["password"] == "" {
		return nil, ErrInvalidAuth
	}

	client := p.newClient()
	if err := client.Connect(ctx, p.cfg.ServerURL, p.cfg.StartTLS, p.cfg.SkipTLSVerify); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.cfg.BindDN != "" {
		if err := client.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("%w: service bind: %v", ErrUnavailable, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := fmt.Sprintf(p.cfg.UserFilter, ldap.EscapeFilter(username))
	entry, err := client.SearchUser(p.cfg.UserBaseDN, filter, []string{p.cfg.NameAttribute})
	if err != nil {
		if errors.Is(err, ErrLDAPUserNotFound) {
			return nil, ErrInvalidAuth
		}
		return nil, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := client.Bind(entry.DN, input["password"]); err != nil {
		var lerr *ldap.Error
		if errors.As(err, &lerr) && lerr.ResultCode == ldap.LDAPResultInvalidCredentials {
			return nil, ErrInvalidAuth
		}
		return nil, fmt.Errorf("%w: user bind: %v", ErrUnavailable, err)
	}

	data := map[string]string{"username": username, "dn": entry.DN}
	if name := entry.GetAttributeValue(p.cfg.NameAttribute); name != "" {
		data["name"] = name
	}
	return &Identity{Key: username, Data: data}, nil
}

var _ Provider = (*LDAP)(nil)

// realLDAPClient backs LDAPClient with a live go-ldap connection.
type realLDAPClient struct {
	conn *ldap.Conn
}

func (c *realLDAPClient) Connect(ctx context.Context, url string, startTLS, skipTLSVerify bool) error {
	dialer := &net.Dialer{Timeout: defaultLDAPTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(url, ldap.DialWithDialer(dialer))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}
	// Binds and searches on this connection time out with the caller
	// instead of hanging on a stalled directory.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	} else {
		conn.SetTimeout(defaultLDAPTimeout)
	}
	if startTLS {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: skipTLSVerify}); err != nil {
			conn.Close()
			return fmt.Errorf("starttls on %s: %w", url, err)
		}
	}
	c.conn = conn
	return nil
}

func (c *realLDAPClient) Bind(username, password string) error {
	if c.conn == nil {
		return errors.New("ldap connection not established")
	}
	return c.conn.Bind(username, password)
}

func (c *realLDAPClient) SearchUser(baseDN, filter string, attributes []string) (*ldap.Entry, error) {
	if c.conn == nil {
		return nil, errors.New("ldap connection not established")
	}
	req := ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 10, false,
		filter, append([]string{"dn"}, attributes...), nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return nil, err
	}
	switch len(res.Entries) {
	case 0:
		return nil, ErrLDAPUserNotFound
	case 1:
		return res.Entries[0], nil
	default:
		return nil, fmt.Errorf("filter %q matched %d entries", filter, len(res.Entries))
	}
}

func (c *realLDAPClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
