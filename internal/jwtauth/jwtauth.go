package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
)

var (
	ErrMalformedToken        = errors.New("malformed token")
	ErrInvalidSignature      = errors.New("invalid token signature")
	ErrInvalidAlgorithm      = errors.New("invalid algorithm specified")
	ErrExpiredToken          = errors.New("token is expired")
	ErrInvalidClaims         = errors.New("token is invalid or expired")
	ErrIntrospectionRejected = errors.New("token is not active")
	ErrKeyUnavailable        = errors.New("no signing key available")
)

// Config controls local token validation.
type Config struct {
	Algorithm string
	Issuer    string
	// Audience is checked only when non-empty.
	Audience        string
	Leeway          time.Duration
	VerifySignature bool
	// VerifyRemotely adds an introspection call after local validation.
	VerifyRemotely bool
}

// ConfigFrom extracts the validation settings from the package configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Algorithm:       c.Algorithm,
		Issuer:          c.Issuer,
		Audience:        c.Audience,
		Leeway:          c.Leeway,
		VerifySignature: c.VerifySignature,
		VerifyRemotely:  c.VerifyTokensRemotely,
	}
}

// Resolver yields the key a parsed token must be verified with.
type Resolver interface {
	Resolve(ctx context.Context, token *jwt.Token) (any, error)
}

// Introspector reports whether a token is still active at the provider.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*keycloak.Introspection, error)
}

// Validator decodes and verifies raw access tokens.
type Validator struct {
	cfg          Config
	keys         Resolver
	introspector Introspector
	log          *slog.Logger
	now          func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.log = l }
}

// WithClock overrides the time source used for exp/nbf/iat checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator returns a Validator. introspector may be nil unless
// cfg.VerifyRemotely is set.
func NewValidator(cfg Config, keys Resolver, introspector Introspector, opts ...ValidatorOption) (*Validator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = config.DefaultAlgorithm
	}
	if cfg.VerifySignature && keys == nil {
		return nil, fmt.Errorf("%w: a key resolver is required to verify signatures", config.ErrConfiguration)
	}
	if cfg.VerifyRemotely && introspector == nil {
		return nil, fmt.Errorf("%w: an introspector is required for remote verification", config.ErrConfiguration)
	}
	v := &Validator{cfg: cfg, keys: keys, introspector: introspector, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	if v.log == nil {
		v.log = slog.New(slog.DiscardHandler)
	}
	return v, nil
}

func (v *Validator) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuedAt(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	return opts
}

// Validate returns the claims of raw once its signature, issuer, audience and
// expiry check out. In remote mode the token must also be active according to
// introspection; the returned claims are still the locally decoded ones.
func (v *Validator) Validate(ctx context.Context, raw string) (claims.Set, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	mc := jwt.MapClaims{}
	if v.cfg.VerifySignature {
		var keyErr error
		_, err := jwt.NewParser(v.parserOptions()...).ParseWithClaims(raw, mc, func(t *jwt.Token) (any, error) {
			key, err := v.resolveKey(ctx, t)
			keyErr = err
			return key, err
		})
		if keyErr != nil {
			return nil, keyErr
		}
		if err != nil {
			return nil, v.classify(ctx, err)
		}
	} else {
		tok, _, err := jwt.NewParser().ParseUnverified(raw, mc)
		if err != nil {
			return nil, v.classify(ctx, err)
		}
		if alg := tok.Method.Alg(); alg != v.cfg.Algorithm {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidAlgorithm, alg, v.cfg.Algorithm)
		}
		if err := jwt.NewValidator(v.parserOptions()...).Validate(mc); err != nil {
			return nil, v.classify(ctx, err)
		}
	}

	if v.cfg.VerifyRemotely {
		in, err := v.introspector.Introspect(ctx, raw)
		if err != nil {
			return nil, err
		}
		if !in.Active {
			v.log.InfoContext(ctx, "jwtauth.introspection.inactive")
			return nil, ErrIntrospectionRejected
		}
	}
	return claims.Set(mc), nil
}

// resolveKey enforces the configured algorithm before asking for a key and
// normalizes resolver failures.
func (v *Validator) resolveKey(ctx context.Context, t *jwt.Token) (any, error) {
	if alg := t.Method.Alg(); alg != v.cfg.Algorithm {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidAlgorithm, alg, v.cfg.Algorithm)
	}
	key, err := v.keys.Resolve(ctx, t)
	switch {
	case err == nil && key == nil:
		return nil, ErrKeyUnavailable
	case err == nil:
		return key, nil
	case errors.Is(err, keycloak.ErrSigningKeyNotFound):
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	case keycloak.IsProviderFailure(err), errors.Is(err, ErrKeyUnavailable), errors.Is(err, config.ErrConfiguration):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
}

// classify maps jwt library errors onto this package's sentinels.
func (v *Validator) classify(ctx context.Context, err error) error {
	var kind error
	switch {
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		kind = ErrInvalidAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		kind = ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenMalformed):
		kind = ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		kind = ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		kind = ErrInvalidClaims
	default:
		kind = ErrMalformedToken
	}
	v.log.DebugContext(ctx, "jwtauth.validate.fail", slog.String("kind", kind.Error()), slog.String("err", err.Error()))
	return fmt.Errorf("%w: %v", kind, err)
}
