// Package bearer adapts an auth.Authenticator to net/http.
//
// Wrap attaches the authentication result to the request context when a
// bearer token is presented and lets anonymous requests through. Require and
// RequirePermission additionally turn away anonymous callers (401 with a
// "Bearer realm='api'" challenge) and callers lacking a role (403).
//
// Errors are answered as JSON objects with "error" and "error_description"
// members. Credential failures map to 401, configuration errors to 500,
// identity provider errors to the provider's status code and an unreachable
// provider to 503. Messages from the provider are only forwarded for 4xx
// answers.
package bearer
