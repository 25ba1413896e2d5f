package keycloak

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover reads the realm's OIDC discovery document. Endpoints the document
// does not advertise fall back to the standard Keycloak layout.
func Discover(ctx context.Context, issuer string, hc *http.Client) (Endpoints, error) {
	if hc != nil {
		ctx = oidc.ClientContext(ctx, hc)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: oidc discovery: %w", ErrProviderUnavailable, err)
	}
	var meta struct {
		Userinfo      string `json:"userinfo_endpoint"`
		Introspection string `json:"introspection_endpoint"`
		JWKS          string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return Endpoints{}, fmt.Errorf("%w: discovery document: %v", ErrMalformedResponse, err)
	}

	out := DefaultEndpoints(issuer)
	if meta.Userinfo != "" {
		out.Userinfo = meta.Userinfo
	}
	if meta.Introspection != "" {
		out.Introspection = meta.Introspection
	}
	if meta.JWKS != "" {
		out.JWKS = meta.JWKS
	}
	return out, nil
}
