package auth

import (
	"context"
	"errors"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/identity"
	"github.com/ggoodman/keycloak-bearer-go/internal/jwtauth"
)

// ErrUnauthorized indicates authentication failed. Every failure caused by
// the request's credentials matches it via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMalformedHeader indicates a Bearer Authorization header that does not
// consist of exactly two space-delimited values.
var ErrMalformedHeader = errors.New("authorization header must contain two space-delimited values")

// Token validation failures.
var (
	ErrMalformedToken        = jwtauth.ErrMalformedToken
	ErrInvalidSignature      = jwtauth.ErrInvalidSignature
	ErrInvalidAlgorithm      = jwtauth.ErrInvalidAlgorithm
	ErrExpiredToken          = jwtauth.ErrExpiredToken
	ErrInvalidClaims         = jwtauth.ErrInvalidClaims
	ErrIntrospectionRejected = jwtauth.ErrIntrospectionRejected
	ErrKeyUnavailable        = jwtauth.ErrKeyUnavailable
)

// Identity resolution failures.
var (
	ErrMissingIdentityClaim = identity.ErrMissingIdentityClaim
	ErrInactiveUser         = identity.ErrInactiveUser
)

// Result is a successful authentication.
type Result struct {
	// User is the local identity record.
	User *identity.User
	// Claims are the validated token claims.
	Claims claims.Set
	// Token is the raw bearer token, for calls made on the user's behalf.
	Token string
}

// UserID returns the local user id.
func (r *Result) UserID() string {
	if r == nil || r.User == nil {
		return ""
	}
	return r.User.ID
}

// Authenticator validates bearer credentials.
//
// Authenticate returns (nil, nil) when the header carries no bearer token;
// the request is then anonymous rather than failed.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*Result, error)
	AuthenticateToken(ctx context.Context, raw string) (*Result, error)
}

// IsAuthFailure reports whether err was caused by the presented credentials.
// Other errors are configuration or provider problems.
func IsAuthFailure(err error) bool {
	for _, kind := range []error{
		ErrUnauthorized,
		ErrMalformedHeader,
		ErrMalformedToken,
		ErrInvalidSignature,
		ErrInvalidAlgorithm,
		ErrExpiredToken,
		ErrInvalidClaims,
		ErrIntrospectionRejected,
		ErrKeyUnavailable,
		ErrMissingIdentityClaim,
		ErrInactiveUser,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
