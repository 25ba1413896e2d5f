package auth

import "strings"

// Scheme is the only authorization scheme handled.
const Scheme = "Bearer"

// DefaultRealm is the realm advertised when none is configured.
const DefaultRealm = "api"

// ExtractToken pulls the bearer token out of an Authorization header value.
// An empty header or another scheme yields ok=false without error. A Bearer
// header with other than two whitespace separated parts yields
// ErrMalformedHeader.
func ExtractToken(header string) (token string, ok bool, err error) {
	parts := strings.Fields(header)
	if len(parts) == 0 || parts[0] != Scheme {
		return "", false, nil
	}
	if len(parts) != 2 {
		return "", false, ErrMalformedHeader
	}
	return parts[1], true, nil
}

// Challenge returns the WWW-Authenticate value sent with 401 responses.
func Challenge(realm string) string {
	if realm == "" {
		realm = DefaultRealm
	}
	return Scheme + " realm='" + strings.ReplaceAll(realm, "'", "") + "'"
}
