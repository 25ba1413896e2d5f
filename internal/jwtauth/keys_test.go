package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/keycloak-bearer-go/keycloak"
	"github.com/ggoodman/keycloak-bearer-go/keycloak/keycloaktest"
)

func TestKeyResolver_CachesLegacyKey(t *testing.T) {
	kc, _, cl := newRealm(t, nil)
	r := NewKeyResolver(false, cl, cl, nil, nil)

	for i := 0; i < 3; i++ {
		key, err := r.Resolve(context.Background(), nil)
		if err != nil {
			t.Fatalf("resolve #%d: %v", i, err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("want *rsa.PublicKey, got %T", key)
		}
	}
	if got := kc.Calls(keycloaktest.Realm); got != 1 {
		t.Fatalf("cache hit must not call the provider, got %d realm fetches", got)
	}

	r.Cache().Invalidate()
	if _, err := r.Resolve(context.Background(), nil); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if got := kc.Calls(keycloaktest.Realm); got != 2 {
		t.Fatalf("invalidate should force a refetch, got %d realm fetches", got)
	}
}

func TestKeyResolver_MissingKeyIsNotCached(t *testing.T) {
	kc, _, cl := newRealm(t, nil)
	r := NewKeyResolver(false, cl, cl, nil, nil)

	kc.OmitPublicKey(true)
	key, err := r.Resolve(context.Background(), nil)
	if err != nil || key != nil {
		t.Fatalf("missing key: want nil, nil; got %v, %v", key, err)
	}
	if _, ok := r.Cache().Load(); ok {
		t.Fatal("absent key must not be cached")
	}

	kc.OmitPublicKey(false)
	if key, err := r.Resolve(context.Background(), nil); err != nil || key == nil {
		t.Fatalf("later fetch should populate the cache: %v, %v", key, err)
	}
	if _, err := r.Resolve(context.Background(), nil); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if got := kc.Calls(keycloaktest.Realm); got != 2 {
		t.Fatalf("want 2 realm fetches, got %d", got)
	}
}

func TestKeyResolver_RemoteBypassesCache(t *testing.T) {
	kc, _, cl := newRealm(t, nil)
	cache := NewKeyCache()
	cache.Store("stale")
	r := NewKeyResolver(true, cl, cl, cache, nil)

	raw := kc.Sign(t, kc.Claims("ZOIDBERG"))
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	key, err := r.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		t.Fatalf("remote mode returned cached value %v", key)
	}
	if kc.Calls(keycloaktest.Certs) != 1 || kc.Calls(keycloaktest.Realm) != 0 {
		t.Fatal("remote mode must go to the JWKS endpoint")
	}
}

func TestParsePublicKeyPEM_Garbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("-----BEGIN PUBLIC KEY-----\nABC123\n-----END PUBLIC KEY-----")
	if !errors.Is(err, keycloak.ErrMalformedResponse) {
		t.Fatalf("want malformed response, got %v", err)
	}
}

func TestKeyCache_Concurrent(t *testing.T) {
	c := NewKeyCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch j % 3 {
				case 0:
					c.Store(i)
				case 1:
					if v, ok := c.Load(); ok {
						if _, isInt := v.(int); !isInt {
							t.Errorf("torn value %v", v)
						}
					}
				default:
					c.Invalidate()
				}
			}
		}(i)
	}
	wg.Wait()
}

func writePEM(t *testing.T, path string) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&pk.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStaticKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.pem")
	writePEM(t, path)
	src, err := NewStaticKeyFile(path)
	if err != nil {
		t.Fatalf("static key file: %v", err)
	}
	r := NewKeyResolver(false, nil, src, nil, nil)
	if key, err := r.Resolve(context.Background(), nil); err != nil || key == nil {
		t.Fatalf("resolve: %v %v", key, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, r.Cache(), nil) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		writePEM(t, path)
		time.Sleep(50 * time.Millisecond)
		if _, ok := r.Cache().Load(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cache was not invalidated after the key file changed")
		}
	}
}

func TestNewStaticKeyFile_Missing(t *testing.T) {
	if _, err := NewStaticKeyFile(filepath.Join(t.TempDir(), "nope.pem")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
