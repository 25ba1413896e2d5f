package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/identity"
	"github.com/ggoodman/keycloak-bearer-go/internal/jwtauth"
	"github.com/ggoodman/keycloak-bearer-go/internal/metrics"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
	"github.com/ggoodman/keycloak-bearer-go/permission"
	"github.com/ggoodman/keycloak-bearer-go/storage/memory"
)

// Provider is the identity provider API the authenticator depends on.
// *keycloak.Client implements it.
type Provider interface {
	Userinfo(ctx context.Context, token string) (claims.Set, error)
	Introspect(ctx context.Context, token string) (*keycloak.Introspection, error)
	SigningKey(ctx context.Context, token *jwt.Token) (any, error)
	LegacyPublicKey(ctx context.Context) (string, error)
}

// Option configures a Keycloak authenticator.
type Option func(*options)

type options struct {
	provider   Provider
	store      identity.Store
	logger     *slog.Logger
	httpClient *http.Client
	keyCache   *jwtauth.KeyCache
}

// WithProvider replaces the HTTP client for the realm, typically with a fake.
func WithProvider(p Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore sets the user store. Defaults to an in-memory store.
func WithStore(s identity.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the HTTP client used to reach the realm.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithKeyCache shares a legacy key cache between authenticators.
func WithKeyCache(c *jwtauth.KeyCache) Option {
	return func(o *options) { o.keyCache = c }
}

// Keycloak authenticates bearer tokens issued by a Keycloak realm.
type Keycloak struct {
	cfg         *config.Config
	provider    Provider
	keys        *jwtauth.KeyResolver
	keyFile     *jwtauth.StaticKeyFile
	validator   *jwtauth.Validator
	identities  *identity.Resolver
	permissions *permission.Evaluator
	log         *slog.Logger
}

var _ Authenticator = (*Keycloak)(nil)

// New validates cfg and wires the validation pipeline. ctx is only used for
// OIDC discovery when enabled.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Keycloak, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", config.ErrConfiguration)
	}
	cfg = cfg.Copy()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.store == nil {
		o.store = identity.NewKVStore(memory.New())
	}
	if o.provider == nil {
		copts := []keycloak.Option{keycloak.WithLogger(o.logger)}
		if o.httpClient != nil {
			copts = append(copts, keycloak.WithHTTPClient(o.httpClient))
		}
		client, err := keycloak.NewClient(ctx, cfg, copts...)
		if err != nil {
			return nil, err
		}
		o.provider = client
	}

	k := &Keycloak{
		cfg:         cfg,
		provider:    o.provider,
		permissions: permission.New(cfg.PermissionPath),
		log:         o.logger,
	}

	var legacy jwtauth.LegacySource = o.provider
	if cfg.PublicKeyFile != "" {
		f, err := jwtauth.NewStaticKeyFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		k.keyFile = f
		legacy = f
	}
	k.keys = jwtauth.NewKeyResolver(cfg.VerifyTokensRemotely, o.provider, legacy, o.keyCache, o.logger)

	v, err := jwtauth.NewValidator(jwtauth.ConfigFrom(cfg), k.keys, o.provider, jwtauth.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	k.validator = v

	r, err := identity.NewResolver(identity.ResolverConfigFrom(cfg), o.store, o.provider, o.logger)
	if err != nil {
		return nil, err
	}
	k.identities = r
	return k, nil
}

// RegisterMetrics adds the authentication metrics to reg. Repeated calls
// are harmless.
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// Config returns a copy of the effective configuration.
func (k *Keycloak) Config() *config.Config { return k.cfg.Copy() }

// Permissions returns the evaluator for the configured permission path.
func (k *Keycloak) Permissions() *permission.Evaluator { return k.permissions }

// InvalidateKeys drops the cached legacy public key.
func (k *Keycloak) InvalidateKeys() { k.keys.Cache().Invalidate() }

// WatchKeyFile invalidates the key cache whenever the configured public key
// file changes. It blocks until ctx is done and is a no-op without a key file.
func (k *Keycloak) WatchKeyFile(ctx context.Context) error {
	if k.keyFile == nil {
		return nil
	}
	return k.keyFile.Watch(ctx, k.keys.Cache(), k.log)
}

// Authenticate implements Authenticator.
func (k *Keycloak) Authenticate(ctx context.Context, header string) (*Result, error) {
	raw, ok, err := ExtractToken(header)
	if err != nil {
		return nil, k.fail(ctx, err)
	}
	if !ok {
		metrics.AuthResults.WithLabelValues("anonymous").Inc()
		return nil, nil
	}
	return k.AuthenticateToken(ctx, raw)
}

// AuthenticateToken validates raw and resolves its user.
func (k *Keycloak) AuthenticateToken(ctx context.Context, raw string) (*Result, error) {
	set, err := k.validator.Validate(ctx, raw)
	if err != nil {
		return nil, k.fail(ctx, err)
	}
	user, err := k.identities.ResolveUser(ctx, set, raw)
	if err != nil {
		return nil, k.fail(ctx, err)
	}
	if user == nil {
		return nil, k.fail(ctx, ErrInactiveUser)
	}
	metrics.AuthResults.WithLabelValues("ok").Inc()
	return &Result{User: user, Claims: set, Token: raw}, nil
}

// fail records and wraps an authentication error. Credential problems are
// joined with ErrUnauthorized; everything else is returned as is.
func (k *Keycloak) fail(ctx context.Context, err error) error {
	if IsAuthFailure(err) {
		metrics.AuthResults.WithLabelValues("rejected").Inc()
		k.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		return errors.Join(ErrUnauthorized, err)
	}
	metrics.AuthResults.WithLabelValues("error").Inc()
	k.log.ErrorContext(ctx, "auth.check.error", slog.String("err", err.Error()))
	return err
}
