// Package auth authenticates HTTP bearer tokens issued by a Keycloak realm.
//
// A Keycloak authenticator runs each request through the same pipeline:
// extract the token from the Authorization header, validate it locally
// (signature, algorithm, issuer, audience when configured, expiry), optionally
// confirm it is still active through the realm's introspection endpoint, and
// map its claims to a local user that is created on first sight.
//
// Example:
//
//	cfg, err := config.FromEnv()
//	if err != nil { log.Fatal(err) }
//	authn, err := auth.New(ctx, cfg, auth.WithStore(store))
//	if err != nil { log.Fatal(err) }
//
//	res, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"))
//	switch {
//	case errors.Is(err, auth.ErrUnauthorized): /* 401 with auth.Challenge("api") */
//	case err != nil:                          /* provider or configuration problem */
//	case res == nil:                          /* anonymous request */
//	}
//
// # Signing keys
//
// By default the realm public key is fetched once from the realm endpoint and
// cached until InvalidateKeys is called. With remote verification enabled the
// JWKS document is fetched for every token and introspection is required to
// report the token active.
//
// # Errors
//
// Failures caused by the presented credentials match ErrUnauthorized and one
// of the specific kinds (ErrMalformedHeader, ErrMalformedToken,
// ErrInvalidSignature, ErrInvalidAlgorithm, ErrExpiredToken, ErrInvalidClaims,
// ErrIntrospectionRejected, ErrKeyUnavailable, ErrMissingIdentityClaim,
// ErrInactiveUser). Configuration mistakes match config.ErrConfiguration.
// Provider failures match keycloak.ErrProviderUnavailable or unwrap to a
// *keycloak.ProviderError carrying the provider's status code. Nothing is
// retried.
package auth
