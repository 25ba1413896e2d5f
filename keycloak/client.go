// Package keycloak talks to the HTTP API of a Keycloak realm: userinfo,
// token introspection, the JWKS document and the legacy realm public key.
//
// Every call is a single attempt bounded by the configured timeout and the
// caller's context. Failures are reported as ErrProviderUnavailable for
// transport problems and *ProviderError for non-2xx answers; nothing is
// retried here.
package keycloak

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/elnormous/contenttype"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/ggoodman/keycloak-bearer-go/claims"
	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/internal/metrics"
)

const (
	pemHeader = "-----BEGIN PUBLIC KEY-----"
	pemFooter = "-----END PUBLIC KEY-----"

	maxBodyBytes = 1 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Endpoints are the absolute URLs the client calls.
type Endpoints struct {
	// Realm is the issuer base URL. GET returns {"public_key": ...}.
	Realm         string
	Userinfo      string
	Introspection string
	JWKS          string
}

// DefaultEndpoints derives the standard Keycloak endpoint layout from an issuer.
func DefaultEndpoints(issuer string) Endpoints {
	base := strings.TrimRight(issuer, "/")
	return Endpoints{
		Realm:         base,
		Userinfo:      base + "/protocol/openid-connect/userinfo",
		Introspection: base + "/protocol/openid-connect/token/introspect",
		JWKS:          base + "/protocol/openid-connect/certs",
	}
}

// Introspection is the answer of the token introspection endpoint.
type Introspection struct {
	Active bool
	// Claims holds the whole response document, active flag included.
	Claims claims.Set
}

// Client is safe for concurrent use.
type Client struct {
	endpoints    Endpoints
	clientID     string
	clientSecret string
	http         *http.Client
	log          *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoints  *Endpoints
}

// WithHTTPClient replaces the pooled default HTTP client. The caller is then
// responsible for its timeout and TLS settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLogger sets the logger used for provider round trips. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithEndpoints overrides endpoint derivation and discovery.
func WithEndpoints(e Endpoints) Option {
	return func(c *clientConfig) { c.endpoints = &e }
}

// NewHTTPClient returns a pooled HTTP client honouring the configured timeout
// and certificate verification toggle.
func NewHTTPClient(cfg *config.Config) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	if !cfg.VerifyCertificate {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opted out via KEYCLOAK_VERIFY_CERTIFICATE
	}
	return &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout}
}

// NewClient builds a client for the realm described by cfg. When cfg.Discovery
// is set the endpoints are read from the realm's OIDC discovery document.
func NewClient(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", config.ErrConfiguration)
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", config.ErrConfiguration)
	}
	cc := &clientConfig{}
	for _, o := range opts {
		o(cc)
	}
	if cc.httpClient == nil {
		cc.httpClient = NewHTTPClient(cfg)
	}
	if cc.logger == nil {
		cc.logger = slog.New(slog.DiscardHandler)
	}

	endpoints := DefaultEndpoints(cfg.Issuer)
	switch {
	case cc.endpoints != nil:
		endpoints = *cc.endpoints
	case cfg.Discovery:
		discovered, err := Discover(ctx, cfg.Issuer, cc.httpClient)
		if err != nil {
			return nil, err
		}
		endpoints = discovered
	}

	return &Client{
		endpoints:    endpoints,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         cc.httpClient,
		log:          cc.logger,
	}, nil
}

// Endpoints returns the URLs in use.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Userinfo fetches the claims of the user the access token belongs to.
func (c *Client) Userinfo(ctx context.Context, token string) (claims.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Userinfo, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.doJSON(req, "userinfo")
}

// Introspect asks the provider whether token is still active. It fails with
// ErrMissingClientSecret before any network call when no secret is configured.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if c.clientSecret == "" {
		return nil, ErrMissingClientSecret
	}
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"token":         {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Introspection, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	doc, err := c.doJSON(req, "introspect")
	if err != nil {
		return nil, err
	}
	var status struct {
		Active bool `json:"active"`
	}
	if err := doc.Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: introspection: %v", ErrMalformedResponse, err)
	}
	return &Introspection{Active: status.Active, Claims: doc}, nil
}

// SigningKey downloads the JWKS document and returns the key matching the
// token's kid header. The document is fetched on every call.
func (c *Client) SigningKey(ctx context.Context, token *jwt.Token) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.JWKS, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	body, err := c.do(req, "certs")
	if err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrMalformedResponse, err)
	}
	key, err := kf.Keyfunc(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyNotFound, err)
	}
	return key, nil
}

// LegacyPublicKey reads the realm document and returns its public_key wrapped
// in PEM markers. An empty string without error means the document carried no
// key.
func (c *Client) LegacyPublicKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Realm, nil)
	if err != nil {
		return "", fmt.Errorf("build realm request: %w", err)
	}
	doc, err := c.doJSON(req, "realm")
	if err != nil {
		return "", err
	}
	raw, ok := doc["public_key"].(string)
	if !ok || raw == "" {
		return "", nil
	}
	return pemHeader + "\n" + raw + "\n" + pemFooter, nil
}

func (c *Client) doJSON(req *http.Request, endpoint string) (claims.Set, error) {
	body, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	var doc claims.Set
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return doc, nil
}

// do performs one round trip and returns the body of a 2xx JSON response.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	req.Header.Set("Accept", jsonMediaType.String())
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveProvider(endpoint, 0, time.Since(start))
		c.log.WarnContext(req.Context(), "keycloak.request.fail", slog.String("endpoint", endpoint), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ObserveProvider(endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrProviderUnavailable, endpoint, err)
	}
	c.log.DebugContext(req.Context(), "keycloak.request", slog.String("endpoint", endpoint), slog.Int("status", resp.StatusCode), slog.Duration("took", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ProviderError{Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(body)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt := contenttype.NewMediaType(ct); !mt.Matches(jsonMediaType) {
			return nil, fmt.Errorf("%w: %s: unexpected content type %q", ErrMalformedResponse, endpoint, ct)
		}
	}
	return body, nil
}

// errorMessage extracts the human readable part of an error body: the JSON
// message, error_description or error field, else the raw text.
func errorMessage(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, field := range []string{"message", "error_description", "error"} {
			if s, ok := doc[field].(string); ok && s != "" {
				return s
			}
		}
	}
	return string(bytes.TrimSpace(body))
}
