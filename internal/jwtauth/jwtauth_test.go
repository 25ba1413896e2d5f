package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/keycloak-bearer-go/config"
	"github.com/ggoodman/keycloak-bearer-go/keycloak"
	"github.com/ggoodman/keycloak-bearer-go/keycloak/keycloaktest"
)

func newRealm(t *testing.T, mutate func(*config.Config)) (*keycloaktest.Server, *config.Config, *keycloak.Client) {
	t.Helper()
	kc := keycloaktest.NewServer(t, "demo")
	cfg := config.ForTesting(func(c *config.Config) {
		c.ServerURL = kc.URL
		c.Realm = kc.RealmName
		c.ClientSecret = kc.ClientSecret
		if mutate != nil {
			mutate(c)
		}
	})
	cl, err := keycloak.NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return kc, cfg, cl
}

func newValidator(t *testing.T, cfg *config.Config, cl *keycloak.Client) *Validator {
	t.Helper()
	keys := NewKeyResolver(cfg.VerifyTokensRemotely, cl, cl, nil, nil)
	v, err := NewValidator(ConfigFrom(cfg), keys, cl)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

func TestValidate_HappyPath(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	raw := kc.Sign(t, kc.Claims("ZOIDBERG"))
	set, err := v.Validate(context.Background(), raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if u, _ := set.String("preferred_username"); u != "ZOIDBERG" {
		t.Fatalf("claims not returned unchanged: %v", set)
	}
	if roles := set.Strings([]string{"resource_access", "account", "roles"}); len(roles) != 2 {
		t.Fatalf("nested claims lost: %v", roles)
	}
	if kc.Calls(keycloaktest.Introspect) != 0 || kc.Calls(keycloaktest.Certs) != 0 {
		t.Fatal("local mode must not call introspection or JWKS")
	}
}

func TestValidate_InvalidAlgorithm(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, kc.Claims("ZOIDBERG"))
	raw, err := hs.SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Validate(context.Background(), raw); !errors.Is(err, ErrInvalidAlgorithm) {
		t.Fatalf("want invalid algorithm, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, kc.Claims("ZOIDBERG"))
	raw, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := v.Validate(context.Background(), raw); !errors.Is(err, ErrInvalidAlgorithm) {
		t.Fatalf("want invalid algorithm for alg=none, got %v", err)
	}
	if kc.Calls(keycloaktest.Realm) != 0 {
		t.Fatal("algorithm must be rejected before any key fetch")
	}
}

func TestValidate_Expired(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	c := kc.Claims("ZOIDBERG")
	c["exp"] = time.Now().Add(-time.Minute).Unix()
	c["iat"] = time.Now().Add(-time.Hour).Unix()
	if _, err := v.Validate(context.Background(), kc.Sign(t, c)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("want expired, got %v", err)
	}
}

func TestValidate_Malformed(t *testing.T) {
	_, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	for _, raw := range []string{"", "not-a-jwt", "a.b.c", "e30.e30"} {
		if _, err := v.Validate(context.Background(), raw); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Validate(%q): want malformed, got %v", raw, err)
		}
	}
}

func TestValidate_WrongKey(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, kc.Claims("ZOIDBERG"))
	tok.Header["kid"] = kc.KID
	raw, err := tok.SignedString(other)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Validate(context.Background(), raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want invalid signature, got %v", err)
	}
}

func TestValidate_Issuer(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)

	c := kc.Claims("ZOIDBERG")
	c["iss"] = "https://evil.example.com/realms/demo"
	if _, err := v.Validate(context.Background(), kc.Sign(t, c)); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("want invalid claims, got %v", err)
	}
}

func TestValidate_Audience(t *testing.T) {
	t.Run("skipped when not configured", func(t *testing.T) {
		kc, cfg, cl := newRealm(t, nil)
		v := newValidator(t, cfg, cl)
		c := kc.Claims("ZOIDBERG")
		c["aud"] = "someone-else"
		if _, err := v.Validate(context.Background(), kc.Sign(t, c)); err != nil {
			t.Fatalf("audience must be ignored when unset: %v", err)
		}
	})

	t.Run("enforced when configured", func(t *testing.T) {
		kc, cfg, cl := newRealm(t, func(c *config.Config) { c.Audience = "my-api" })
		v := newValidator(t, cfg, cl)

		c := kc.Claims("ZOIDBERG")
		if _, err := v.Validate(context.Background(), kc.Sign(t, c)); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("missing aud: want invalid claims, got %v", err)
		}
		c["aud"] = []any{"account", "my-api"}
		if _, err := v.Validate(context.Background(), kc.Sign(t, c)); err != nil {
			t.Fatalf("matching aud rejected: %v", err)
		}
		c["aud"] = "account"
		if _, err := v.Validate(context.Background(), kc.Sign(t, c)); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("wrong aud: want invalid claims, got %v", err)
		}
	})
}

func TestValidate_RemoteMode(t *testing.T) {
	kc, cfg, cl := newRealm(t, func(c *config.Config) { c.VerifyTokensRemotely = true })
	v := newValidator(t, cfg, cl)
	raw := kc.Sign(t, kc.Claims("ZOIDBERG"))

	for i := 0; i < 2; i++ {
		if _, err := v.Validate(context.Background(), raw); err != nil {
			t.Fatalf("validate #%d: %v", i, err)
		}
	}
	if got := kc.Calls(keycloaktest.Certs); got != 2 {
		t.Fatalf("remote mode must fetch JWKS per validation, got %d", got)
	}
	if got := kc.Calls(keycloaktest.Introspect); got != 2 {
		t.Fatalf("remote mode must introspect per validation, got %d", got)
	}
	if kc.Calls(keycloaktest.Realm) != 0 {
		t.Fatal("remote mode must not use the legacy endpoint")
	}

	kc.SetActive(false)
	if _, err := v.Validate(context.Background(), raw); !errors.Is(err, ErrIntrospectionRejected) {
		t.Fatalf("want introspection rejected, got %v", err)
	}
}

func TestValidate_RemoteWithoutSecret(t *testing.T) {
	kc, cfg, cl := newRealm(t, func(c *config.Config) {
		c.VerifyTokensRemotely = true
		c.ClientSecret = ""
	})
	v := newValidator(t, cfg, cl)

	_, err := v.Validate(context.Background(), kc.Sign(t, kc.Claims("ZOIDBERG")))
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestValidate_SignatureVerificationDisabled(t *testing.T) {
	kc, cfg, cl := newRealm(t, func(c *config.Config) { c.VerifySignature = false })
	v := newValidator(t, cfg, cl)

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, kc.Claims("ZOIDBERG"))
	raw, err := tok.SignedString(other)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Validate(context.Background(), raw); err != nil {
		t.Fatalf("unverified decode should accept foreign signature: %v", err)
	}

	c := kc.Claims("ZOIDBERG")
	c["exp"] = time.Now().Add(-time.Minute).Unix()
	if _, err := v.Validate(context.Background(), kc.Sign(t, c)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expiry must still be checked, got %v", err)
	}
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, kc.Claims("ZOIDBERG")).SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	if _, err := v.Validate(context.Background(), hs); !errors.Is(err, ErrInvalidAlgorithm) {
		t.Fatalf("algorithm must still be checked, got %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, kc.Claims("ZOIDBERG")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := v.Validate(context.Background(), none); !errors.Is(err, ErrInvalidAlgorithm) {
		t.Fatalf("alg=none must be rejected, got %v", err)
	}
	if kc.Calls(keycloaktest.Realm) != 0 {
		t.Fatal("no key should be fetched when signatures are not verified")
	}
}

func TestValidate_ProviderFailure(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)
	kc.Fail(keycloaktest.Realm, http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`)

	_, err := v.Validate(context.Background(), kc.Sign(t, kc.Claims("ZOIDBERG")))
	pe, ok := keycloak.AsProviderError(err)
	if !ok || pe.Status != http.StatusServiceUnavailable {
		t.Fatalf("want provider error 503, got %v", err)
	}
}

func TestValidate_NoLegacyKey(t *testing.T) {
	kc, cfg, cl := newRealm(t, nil)
	v := newValidator(t, cfg, cl)
	kc.OmitPublicKey(true)

	_, err := v.Validate(context.Background(), kc.Sign(t, kc.Claims("ZOIDBERG")))
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("want key unavailable, got %v", err)
	}
}

func TestNewValidator_RequiresCollaborators(t *testing.T) {
	if _, err := NewValidator(Config{VerifySignature: true}, nil, nil); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("missing resolver: want configuration error, got %v", err)
	}
	if _, err := NewValidator(Config{VerifyRemotely: true}, nil, nil); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("missing introspector: want configuration error, got %v", err)
	}
}
