package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/internal/metrics"
)

// UserinfoFetcher returns the provider's view of the token's user.
type UserinfoFetcher interface {
	Userinfo(ctx context.Context, token string) (claims.Set, error)
}

// ResolverConfig selects how claims identify and populate users.
type ResolverConfig struct {
	UserIDField  string
	UserIDClaim  string
	ClaimMapping config.ClaimMapping
	// FetchUserinfo replaces the token claims with the userinfo document
	// before populating a newly created user.
	FetchUserinfo bool
}

// ResolverConfigFrom extracts the identity settings from the package configuration.
func ResolverConfigFrom(c *config.Config) ResolverConfig {
	return ResolverConfig{
		UserIDField:   c.UserIDField,
		UserIDClaim:   c.UserIDClaim,
		ClaimMapping:  c.ClaimMapping.Clone(),
		FetchUserinfo: c.VerifyTokensRemotely,
	}
}

type Resolver struct {
	cfg      ResolverConfig
	store    Store
	userinfo UserinfoFetcher
	log      *slog.Logger
}

// NewResolver wires a resolver. userinfo may be nil unless cfg.FetchUserinfo is set.
func NewResolver(cfg ResolverConfig, store Store, userinfo UserinfoFetcher, log *slog.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: a user store is required", config.ErrConfiguration)
	}
	if cfg.FetchUserinfo && userinfo == nil {
		return nil, fmt.Errorf("%w: a userinfo fetcher is required", config.ErrConfiguration)
	}
	if cfg.UserIDField == "" {
		cfg.UserIDField = config.DefaultUserIDField
	}
	if cfg.UserIDClaim == "" {
		cfg.UserIDClaim = config.DefaultUserIDClaim
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Resolver{cfg: cfg, store: store, userinfo: userinfo, log: log}, nil
}

// ResolveUser finds or creates the user named by the identity claim. It
// returns nil without error when the user exists but is deactivated.
func (r *Resolver) ResolveUser(ctx context.Context, set claims.Set, rawToken string) (*User, error) {
	// An empty value would key every such token to one shared user.
	id, ok := set.String(r.cfg.UserIDClaim)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentityClaim, r.cfg.UserIDClaim)
	}

	user, created, err := r.store.FindOrCreate(ctx, r.cfg.UserIDField, id)
	if err != nil {
		return nil, fmt.Errorf("find or create user: %w", err)
	}

	if created || user.Pending {
		if err := r.populate(ctx, user, set, rawToken); err != nil {
			return nil, err
		}
		metrics.UsersCreated.Inc()
		r.log.InfoContext(ctx, "identity.user.created", slog.String("user_id", user.ID))
	}

	if !user.CanAuthenticate() {
		r.log.InfoContext(ctx, "identity.user.inactive", slog.String("user_id", user.ID))
		return nil, nil
	}
	return user, nil
}

func (r *Resolver) populate(ctx context.Context, user *User, set claims.Set, rawToken string) error {
	if r.cfg.FetchUserinfo {
		info, err := r.userinfo.Userinfo(ctx, rawToken)
		if err != nil {
			return err
		}
		set = info
	}
	user.SetUnusablePassword()
	for field, claim := range r.cfg.ClaimMapping {
		if v, ok := set.Get(claim); ok {
			user.SetField(field, v)
		}
	}
	user.Pending = false
	if err := r.store.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}
