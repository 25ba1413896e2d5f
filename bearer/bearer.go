package bearer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/keycloak-bearer-go/auth"
	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/internal/logctx"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
	"github.com/ggoodman/keycloak-bearer-go/permission"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) { m.log = l }
}

// WithRealm sets the realm advertised in the WWW-Authenticate challenge.
// Defaults to "api".
func WithRealm(realm string) Option {
	return func(m *Middleware) { m.realm = realm }
}

// Middleware authenticates requests with an auth.Authenticator and exposes
// the result to downstream handlers through the request context.
type Middleware struct {
	authn auth.Authenticator
	realm string
	log   *slog.Logger
}

// New creates a Middleware around authn.
func New(authn auth.Authenticator, opts ...Option) *Middleware {
	m := &Middleware{authn: authn, realm: auth.DefaultRealm}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	return m
}

type resultKey struct{}

// FromContext returns the authentication result attached by the middleware.
// Anonymous requests have none.
func FromContext(ctx context.Context) (*auth.Result, bool) {
	res, ok := ctx.Value(resultKey{}).(*auth.Result)
	return res, ok && res != nil
}

// WithResult attaches res to ctx. Handlers under test can use it in place
// of running the middleware.
func WithResult(ctx context.Context, res *auth.Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// Wrap authenticates the request when it carries a bearer token. Requests
// without one reach next anonymously. Failed authentication is answered
// directly and next is not called.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if _, ok := logctx.RequestDataFrom(ctx); !ok {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
				RequestID:  id,
				Method:     r.Method,
				UserAgent:  r.UserAgent(),
				RemoteAddr: r.RemoteAddr,
				Path:       r.URL.Path,
			})
		}

		res, err := m.authn.Authenticate(ctx, r.Header.Get(authorizationHeader))
		if err != nil {
			m.writeError(ctx, w, err)
			return
		}
		if res == nil {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ad := &logctx.AuthData{UserID: res.UserID()}
		if res.User != nil {
			ad.Username = res.User.Username
		}
		ad.Subject, _ = res.Claims.String("sub")
		ctx = logctx.WithAuthData(WithResult(ctx, res), ad)
		m.log.DebugContext(ctx, "bearer.authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require is Wrap, but anonymous requests are rejected with 401 and a bearer
// challenge.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			m.log.InfoContext(r.Context(), "bearer.missing")
			m.unauthorized(w, "authentication credentials were not provided")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequirePermission is Require, and additionally answers 403 unless the
// token grants perm under ev's claim path.
func (m *Middleware) RequirePermission(ev *permission.Evaluator, perm string, next http.Handler) http.Handler {
	return m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, _ := FromContext(r.Context())
		if !ev.HasPermission(res.Claims, perm) {
			m.log.InfoContext(r.Context(), "bearer.forbidden", slog.String("permission", perm))
			writeJSONError(w, http.StatusForbidden, "insufficient_scope", "you do not have permission to perform this action")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireViewProfile guards next with the view-profile permission.
func (m *Middleware) RequireViewProfile(ev *permission.Evaluator, next http.Handler) http.Handler {
	return m.RequirePermission(ev, permission.ViewProfile, next)
}

func (m *Middleware) unauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set(wwwAuthenticateHeader, auth.Challenge(m.realm))
	writeJSONError(w, http.StatusUnauthorized, "invalid_token", desc)
}

func (m *Middleware) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if auth.IsAuthFailure(err) {
		m.log.InfoContext(ctx, "bearer.rejected", slog.String("err", err.Error()))
		m.unauthorized(w, Reason(err))
		return
	}

	status, code, desc := http.StatusInternalServerError, "server_error", "authentication failed unexpectedly"
	if pe, ok := keycloak.AsProviderError(err); ok {
		status, code, desc = pe.Status, "provider_error", "identity provider error"
		if pe.Status < http.StatusInternalServerError && pe.Message != "" {
			desc = pe.Message
		}
	} else if errors.Is(err, keycloak.ErrProviderUnavailable) {
		status, code, desc = http.StatusServiceUnavailable, "temporarily_unavailable", "identity provider unavailable"
	} else if errors.Is(err, config.ErrConfiguration) {
		desc = "authentication is misconfigured"
	}
	m.log.ErrorContext(ctx, "bearer.error", slog.Int("status", status), slog.String("err", err.Error()))
	writeJSONError(w, status, code, desc)
}

// Reason returns the client-facing description of an authentication
// failure: the most specific failure kind err carries.
func Reason(err error) string {
	for _, kind := range []error{
		auth.ErrMalformedHeader,
		auth.ErrInvalidAlgorithm,
		auth.ErrExpiredToken,
		auth.ErrInvalidClaims,
		auth.ErrInvalidSignature,
		auth.ErrMalformedToken,
		auth.ErrKeyUnavailable,
		auth.ErrIntrospectionRejected,
		auth.ErrMissingIdentityClaim,
		auth.ErrInactiveUser,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return auth.ErrUnauthorized.Error()
}

func writeJSONError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}
