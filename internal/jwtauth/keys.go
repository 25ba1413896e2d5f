package jwtauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/ggoodman/keycloak-bearer-go/internal/metrics"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
)

// JWKSource returns the key for a token from a freshly fetched JWKS document.
type JWKSource interface {
	SigningKey(ctx context.Context, token *jwt.Token) (any, error)
}

// LegacySource returns the realm public key as PEM text, or "" when the
// provider has none.
type LegacySource interface {
	LegacyPublicKey(ctx context.Context) (string, error)
}

// KeyCache holds the parsed legacy public key. Writes replace the whole value
// atomically; concurrent misses may each fetch and store.
type KeyCache struct {
	v atomic.Pointer[cachedKey]
}

type cachedKey struct {
	key any
}

func NewKeyCache() *KeyCache { return &KeyCache{} }

// Load returns the cached key, if any.
func (c *KeyCache) Load() (any, bool) {
	if e := c.v.Load(); e != nil {
		return e.key, true
	}
	return nil, false
}

func (c *KeyCache) Store(key any) {
	c.v.Store(&cachedKey{key: key})
}

// Invalidate drops the cached key. The next Resolve fetches again.
func (c *KeyCache) Invalidate() {
	c.v.Store(nil)
}

// KeyResolver picks the verification key for a token. In remote mode every
// call fetches the JWKS document; otherwise the legacy key is fetched once and
// cached until Invalidate.
type KeyResolver struct {
	remote bool
	jwks   JWKSource
	legacy LegacySource
	cache  *KeyCache
	log    *slog.Logger
}

// NewKeyResolver wires a resolver. cache may be nil, in which case a private
// one is created.
func NewKeyResolver(remote bool, jwks JWKSource, legacy LegacySource, cache *KeyCache, log *slog.Logger) *KeyResolver {
	if cache == nil {
		cache = NewKeyCache()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &KeyResolver{remote: remote, jwks: jwks, legacy: legacy, cache: cache, log: log}
}

// Cache exposes the legacy key cache.
func (r *KeyResolver) Cache() *KeyCache { return r.cache }

// Resolve returns the key for token. A nil key without error means the
// provider published no legacy key; nothing is cached in that case.
func (r *KeyResolver) Resolve(ctx context.Context, token *jwt.Token) (any, error) {
	if r.remote {
		return r.jwks.SigningKey(ctx, token)
	}

	if key, ok := r.cache.Load(); ok {
		metrics.KeyCacheLookups.WithLabelValues("hit").Inc()
		return key, nil
	}
	metrics.KeyCacheLookups.WithLabelValues("miss").Inc()
	r.log.DebugContext(ctx, "jwtauth.key.cache_miss")

	text, err := r.legacy.LegacyPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	if text == "" {
		r.log.WarnContext(ctx, "jwtauth.key.absent")
		return nil, nil
	}
	key, err := ParsePublicKeyPEM(text)
	if err != nil {
		return nil, err
	}
	r.cache.Store(key)
	return key, nil
}

// ParsePublicKeyPEM turns a PEM encoded public key (RSA, EC or Ed25519) into
// the crypto key jwt expects.
func ParsePublicKeyPEM(text string) (any, error) {
	k, err := jwk.ParseKey([]byte(text), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", keycloak.ErrMalformedResponse, err)
	}
	var raw any
	if err := k.Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", keycloak.ErrMalformedResponse, err)
	}
	return raw, nil
}
