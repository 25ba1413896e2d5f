package keycloak

import (
	"errors"
	"fmt"

	"github.com/ggoodman/keycloak-bearer-go/config"
)

var (
	// ErrProviderUnavailable is returned when the identity provider could not be
	// reached or did not answer before the deadline.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrMalformedResponse is returned for successful responses whose body is not
	// the expected document, including unusable key material.
	ErrMalformedResponse = errors.New("malformed identity provider response")

	// ErrSigningKeyNotFound is returned when the JWKS document has no key usable
	// for the token's kid and alg.
	ErrSigningKeyNotFound = errors.New("no matching signing key in JWKS")

	// ErrMissingClientSecret is returned by Introspect when no client secret is
	// configured. It wraps config.ErrConfiguration.
	ErrMissingClientSecret = fmt.Errorf("%w: please set KEYCLOAK_CLIENT_SECRET to verify tokens with keycloak", config.ErrConfiguration)
)

// ProviderError is a non-2xx answer from the identity provider. Status is the
// provider's HTTP status code.
type ProviderError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider %s endpoint returned %d: %s", e.Endpoint, e.Status, e.Message)
}

// AsProviderError unwraps err to a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsProviderFailure reports whether err came from talking to the identity
// provider rather than from the token itself.
func IsProviderFailure(err error) bool {
	if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrMalformedResponse) {
		return true
	}
	_, ok := AsProviderError(err)
	return ok
}
