// Package authtest provides test doubles for the auth package.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/keycloak-bearer-go/auth"
	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/identity"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
)

// Static is a test authenticator that accepts any bearer token and returns a
// fixed user. Requests without a bearer token stay anonymous.
type Static struct {
	User   *identity.User
	Claims claims.Set
}

// NewStatic creates a Static authenticator for username.
// If username is empty, it defaults to "test-user".
func NewStatic(username string, roles ...string) *Static {
	if username == "" {
		username = "test-user"
	}
	active := true
	r := make([]any, len(roles))
	for i, role := range roles {
		r[i] = role
	}
	return &Static{
		User: &identity.User{ID: "id-" + username, Username: username, Active: &active, PasswordUnusable: true},
		Claims: claims.Set{
			"preferred_username": username,
			"resource_access":    map[string]any{"account": map[string]any{"roles": r}},
		},
	}
}

// Authenticate implements auth.Authenticator.
func (s *Static) Authenticate(ctx context.Context, header string) (*auth.Result, error) {
	raw, ok, err := auth.ExtractToken(header)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.AuthenticateToken(ctx, raw)
}

// AuthenticateToken implements auth.Authenticator.
func (s *Static) AuthenticateToken(ctx context.Context, raw string) (*auth.Result, error) {
	return &auth.Result{User: s.User, Claims: s.Claims, Token: raw}, nil
}

var _ auth.Authenticator = (*Static)(nil)

// Provider is an in-memory identity provider implementing auth.Provider.
type Provider struct {
	Key    *rsa.PrivateKey
	KID    string
	Issuer string

	mu       sync.Mutex
	active   bool
	userinfo claims.Set
	err      error
	calls    map[string]int
}

// NewProvider creates a provider with a fresh RSA key issuing for issuer.
func NewProvider(t testing.TB, issuer string) *Provider {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return &Provider{Key: pk, KID: "test-key", Issuer: issuer, active: true, calls: map[string]int{}}
}

// SetActive sets the introspection answer.
func (p *Provider) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = active
}

// SetUserinfo sets the userinfo answer.
func (p *Provider) SetUserinfo(doc claims.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfo = doc
}

// SetError makes every call fail with err. nil restores normal answers.
func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns how often the named method ran.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) record(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	return p.err
}

// Claims returns a valid claim set for username.
func (p *Provider) Claims(username string, roles ...string) jwt.MapClaims {
	now := time.Now()
	r := make([]any, len(roles))
	for i, role := range roles {
		r[i] = role
	}
	return jwt.MapClaims{
		"iss":                p.Issuer,
		"sub":                "sub-" + strings.ToLower(username),
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"preferred_username": username,
		"resource_access":    map[string]any{"account": map[string]any{"roles": r}},
	}
}

// Sign returns claims signed with the provider key using RS256.
func (p *Provider) Sign(t testing.TB, c jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = p.KID
	out, err := tok.SignedString(p.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out
}

// Userinfo implements auth.Provider.
func (p *Provider) Userinfo(ctx context.Context, token string) (claims.Set, error) {
	if err := p.record("Userinfo"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfo.Clone(), nil
}

// Introspect implements auth.Provider.
func (p *Provider) Introspect(ctx context.Context, token string) (*keycloak.Introspection, error) {
	if err := p.record("Introspect"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return &keycloak.Introspection{Active: p.active, Claims: claims.Set{"active": p.active}}, nil
}

// SigningKey implements auth.Provider.
func (p *Provider) SigningKey(ctx context.Context, token *jwt.Token) (any, error) {
	if err := p.record("SigningKey"); err != nil {
		return nil, err
	}
	if kid, _ := token.Header["kid"].(string); kid != p.KID {
		return nil, keycloak.ErrSigningKeyNotFound
	}
	return &p.Key.PublicKey, nil
}

// LegacyPublicKey implements auth.Provider.
func (p *Provider) LegacyPublicKey(ctx context.Context) (string, error) {
	if err := p.record("LegacyPublicKey"); err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(&p.Key.PublicKey)
	if err != nil {
		return "", err
	}
	return "-----BEGIN PUBLIC KEY-----\n" + base64.StdEncoding.EncodeToString(der) + "\n-----END PUBLIC KEY-----", nil
}

var _ auth.Provider = (*Provider)(nil)
