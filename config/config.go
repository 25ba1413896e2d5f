// Package config holds the static configuration of a Keycloak bearer-token
// authenticator.
//
// A Config is populated once, typically from KEYCLOAK_* environment variables
// via [FromEnv], and treated as immutable afterwards. Tests build configurations
// with [ForTesting] instead of mutating process-wide settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// ErrConfiguration marks a server-side misconfiguration. It is never the
// caller's fault and is never retried.
var ErrConfiguration = errors.New("configuration error")

const (
	DefaultClientID       = "account"
	DefaultAlgorithm      = "RS256"
	DefaultPermissionPath = "resource_access.account.roles"
	DefaultUserIDField    = "username"
	DefaultUserIDClaim    = "preferred_username"
	DefaultHTTPTimeout    = 30 * time.Second
)

// Config for a Keycloak-backed authenticator. Defaults can be loaded via envdecode.
type Config struct {
	// ServerURL of the Keycloak deployment, e.g. https://sso.example.com. ENV: KEYCLOAK_SERVER_URL
	ServerURL string `env:"KEYCLOAK_SERVER_URL"`
	// Realm name. ENV: KEYCLOAK_REALM
	Realm string `env:"KEYCLOAK_REALM"`
	// ClientID used for introspection. ENV: KEYCLOAK_CLIENT_ID
	ClientID string `env:"KEYCLOAK_CLIENT_ID,default=account"`
	// ClientSecret used for introspection. ENV: KEYCLOAK_CLIENT_SECRET
	ClientSecret string `env:"KEYCLOAK_CLIENT_SECRET"`
	// Audience expected in the aud claim. Empty disables the audience check. ENV: KEYCLOAK_AUDIENCE
	Audience string `env:"KEYCLOAK_AUDIENCE"`
	// Algorithm tokens must be signed with. ENV: KEYCLOAK_ALGORITHM
	Algorithm string `env:"KEYCLOAK_ALGORITHM,default=RS256"`
	// Issuer overrides the derived ServerURL + "/realms/" + Realm. ENV: KEYCLOAK_ISSUER
	Issuer string `env:"KEYCLOAK_ISSUER"`

	// VerifyTokensRemotely switches signing keys to per-request JWKS lookups and
	// adds an introspection call to every validation. ENV: KEYCLOAK_VERIFY_TOKENS_WITH_KEYCLOAK
	VerifyTokensRemotely bool `env:"KEYCLOAK_VERIFY_TOKENS_WITH_KEYCLOAK,default=false,strict"`
	// VerifySignature can be turned off to only decode and check registered claims. ENV: KEYCLOAK_VERIFY_SIGNATURE
	VerifySignature bool `env:"KEYCLOAK_VERIFY_SIGNATURE,default=true,strict"`
	// VerifyCertificate toggles TLS verification of the identity provider. ENV: KEYCLOAK_VERIFY_CERTIFICATE
	VerifyCertificate bool `env:"KEYCLOAK_VERIFY_CERTIFICATE,default=true,strict"`

	// PermissionPath is the dotted claim path holding the role list. ENV: KEYCLOAK_PERMISSION_PATH
	PermissionPath string `env:"KEYCLOAK_PERMISSION_PATH,default=resource_access.account.roles"`
	// UserIDField is the local user field used for lookups. ENV: KEYCLOAK_USER_ID_FIELD
	UserIDField string `env:"KEYCLOAK_USER_ID_FIELD,default=username"`
	// UserIDClaim is the claim whose value identifies the user. ENV: KEYCLOAK_USER_ID_CLAIM
	UserIDClaim string `env:"KEYCLOAK_USER_ID_CLAIM,default=preferred_username"`
	// ClaimMapping copies claims into local user fields on creation. ENV: KEYCLOAK_CLAIM_MAPPING
	ClaimMapping ClaimMapping `env:"KEYCLOAK_CLAIM_MAPPING,default=first_name=given_name;last_name=family_name;email=email;username=preferred_username"`

	// HTTPTimeout bounds every call to the identity provider. ENV: KEYCLOAK_HTTP_TIMEOUT
	HTTPTimeout time.Duration `env:"KEYCLOAK_HTTP_TIMEOUT,default=30s,strict"`
	// Leeway tolerated when checking exp/nbf/iat. ENV: KEYCLOAK_LEEWAY
	Leeway time.Duration `env:"KEYCLOAK_LEEWAY,default=0s,strict"`
	// Discovery resolves provider endpoints from the OIDC discovery document. ENV: KEYCLOAK_DISCOVERY
	Discovery bool `env:"KEYCLOAK_DISCOVERY,default=false,strict"`
	// PublicKeyFile is a PEM file used in place of the legacy realm key endpoint. ENV: KEYCLOAK_PUBLIC_KEY_FILE
	PublicKeyFile string `env:"KEYCLOAK_PUBLIC_KEY_FILE"`
}

// Default returns a Config carrying every documented default. ServerURL and
// Realm are left empty.
func Default() *Config {
	return &Config{
		ClientID:          DefaultClientID,
		Algorithm:         DefaultAlgorithm,
		VerifySignature:   true,
		VerifyCertificate: true,
		PermissionPath:    DefaultPermissionPath,
		UserIDField:       DefaultUserIDField,
		UserIDClaim:       DefaultUserIDClaim,
		ClaimMapping:      DefaultClaimMapping(),
		HTTPTimeout:       DefaultHTTPTimeout,
	}
}

// FromEnv loads a Config from KEYCLOAK_* environment variables, derives the
// issuer and validates the result.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("%w: decode environment: %v", ErrConfiguration, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ForTesting returns the defaults with mutate applied, normalized. It never
// reads the environment and does not validate.
func ForTesting(mutate func(*Config)) *Config {
	cfg := Default()
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()
	return cfg
}

// Normalize trims the server URL and fills the derived issuer and the zero
// valued fields that have defaults.
func (c *Config) Normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	c.Realm = strings.TrimSpace(c.Realm)
	if c.Issuer == "" && c.ServerURL != "" && c.Realm != "" {
		c.Issuer = c.ServerURL + "/realms/" + c.Realm
	}
	c.Issuer = strings.TrimRight(c.Issuer, "/")
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.UserIDField == "" {
		c.UserIDField = DefaultUserIDField
	}
	if c.UserIDClaim == "" {
		c.UserIDClaim = DefaultUserIDClaim
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
}

// Validate reports every problem with the configuration at once. Each error
// wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...))
	}

	if c.Issuer == "" {
		fail("KEYCLOAK_SERVER_URL and KEYCLOAK_REALM (or KEYCLOAK_ISSUER) are required")
	} else if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		fail("issuer %q is not an absolute URL", c.Issuer)
	}
	if c.VerifyTokensRemotely && c.ClientSecret == "" {
		fail("KEYCLOAK_CLIENT_SECRET must be set when KEYCLOAK_VERIFY_TOKENS_WITH_KEYCLOAK is enabled")
	}
	if c.UserIDClaim == "" {
		fail("user id claim must not be empty")
	}
	if c.Leeway < 0 {
		fail("leeway must not be negative")
	}
	for field, claim := range c.ClaimMapping {
		if field == "" || claim == "" {
			fail("claim mapping entry %q=%q is incomplete", field, claim)
		}
	}
	return errors.Join(errs...)
}

// Copy returns a deep copy of the configuration.
func (c *Config) Copy() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.ClaimMapping = c.ClaimMapping.Clone()
	return &out
}
