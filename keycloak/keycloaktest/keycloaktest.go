// Package keycloaktest runs an in-process fake of a Keycloak realm for tests.
package keycloaktest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Endpoint names accepted by Calls and Fail.
const (
	Realm      = "realm"
	Certs      = "certs"
	Userinfo   = "userinfo"
	Introspect = "introspect"
	Discovery  = "discovery"
)

type failure struct {
	status int
	body   string
}

// Server is a fake realm. Zero or more endpoints can be told to fail.
type Server struct {
	*httptest.Server

	RealmName string
	Issuer    string
	Key       *rsa.PrivateKey
	KID       string

	ClientID     string
	ClientSecret string

	mu            sync.Mutex
	calls         map[string]int
	failures      map[string]failure
	userinfo      map[string]any
	active        bool
	omitPublicKey bool
	lastForm      map[string]string
}

// NewServer starts a fake realm named realm and registers cleanup with t.
func NewServer(t testing.TB, realm string) *Server {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	s := &Server{
		RealmName:    realm,
		Key:          pk,
		KID:          "test-key",
		ClientID:     "account",
		ClientSecret: "secret",
		calls:        map[string]int{},
		failures:     map[string]failure{},
		active:       true,
	}
	base := "/realms/" + realm
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base, s.handle(Realm, s.serveRealm))
	mux.HandleFunc("GET "+base+"/.well-known/openid-configuration", s.handle(Discovery, s.serveDiscovery))
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/certs", s.handle(Certs, s.serveCerts))
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/userinfo", s.handle(Userinfo, s.serveUserinfo))
	mux.HandleFunc("POST "+base+"/protocol/openid-connect/token/introspect", s.handle(Introspect, s.serveIntrospect))
	s.Server = httptest.NewServer(mux)
	s.Issuer = s.URL + base
	t.Cleanup(s.Close)
	return s
}

// Calls returns how many requests endpoint has served.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Fail makes endpoint answer with status and body until Recover is called.
func (s *Server) Fail(endpoint string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = failure{status: status, body: body}
}

// Recover clears a failure set with Fail.
func (s *Server) Recover(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, endpoint)
}

// SetUserinfo sets the document served by the userinfo endpoint.
func (s *Server) SetUserinfo(doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfo = doc
}

// SetActive sets the active flag returned by introspection.
func (s *Server) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// OmitPublicKey drops public_key from the realm document.
func (s *Server) OmitPublicKey(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitPublicKey = omit
}

// LastIntrospectionForm returns the form fields of the latest introspection call.
func (s *Server) LastIntrospectionForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// PublicKeyBase64 is the realm key as Keycloak publishes it: base64 DER
// without PEM markers.
func (s *Server) PublicKeyBase64() string {
	der, err := x509.MarshalPKIXPublicKey(&s.Key.PublicKey)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

// Claims returns a valid claim set for username issued by this realm.
func (s *Server) Claims(username string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                s.Issuer,
		"sub":                "sub-" + strings.ToLower(username),
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"preferred_username": username,
		"resource_access": map[string]any{
			"account": map[string]any{"roles": []any{"manage-account", "view-profile"}},
		},
	}
}

// Sign returns claims signed with the realm key using RS256.
func (s *Server) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KID
	out, err := tok.SignedString(s.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out
}

func (s *Server) handle(endpoint string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[endpoint]++
		f, failing := s.failures[endpoint]
		s.mu.Unlock()
		if failing {
			if strings.HasPrefix(strings.TrimSpace(f.body), "{") {
				w.Header().Set("Content-Type", "application/json")
			}
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serveRealm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	omit := s.omitPublicKey
	s.mu.Unlock()
	doc := map[string]any{"realm": s.RealmName, "token-service": s.Issuer + "/protocol/openid-connect"}
	if !omit {
		doc["public_key"] = s.PublicKeyBase64()
	}
	writeJSON(w, doc)
}

func (s *Server) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	base := s.Issuer + "/protocol/openid-connect"
	writeJSON(w, map[string]any{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"introspection_endpoint":                base + "/token/introspect",
		"jwks_uri":                              base + "/certs",
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *Server) serveCerts(w http.ResponseWriter, r *http.Request) {
	jwk := jose.JSONWebKey{Key: &s.Key.PublicKey, KeyID: s.KID, Algorithm: "RS256", Use: "sig"}
	writeJSON(w, struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}})
}

func (s *Server) serveUserinfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_request","error_description":"Token not provided"}`))
		return
	}
	s.mu.Lock()
	doc := s.userinfo
	s.mu.Unlock()
	if doc == nil {
		doc = map[string]any{}
	}
	writeJSON(w, doc)
}

func (s *Server) serveIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := map[string]string{
		"client_id":     r.PostForm.Get("client_id"),
		"client_secret": r.PostForm.Get("client_secret"),
		"token":         r.PostForm.Get("token"),
	}
	s.mu.Lock()
	s.lastForm = form
	active := s.active
	s.mu.Unlock()
	if form["client_id"] != s.ClientID || form["client_secret"] != s.ClientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized_client","error_description":"Invalid client or Invalid client credentials"}`))
		return
	}
	writeJSON(w, map[string]any{"active": active})
}
