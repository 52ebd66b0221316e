package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestKeychain(t *testing.T, names ...string) (*Keychain, map[string]string) {
	t.Helper()
	keys := make(map[string]string, len(names))
	entries := make([]string, 0, len(names))
	for _, name := range names {
		key := "secret-" + name
		entry, err := HashAPIKey(name, key)
		if err != nil {
			t.Fatalf("hash key: %v", err)
		}
		keys[name] = key
		entries = append(entries, entry)
	}
	kc, err := NewKeychain(entries)
	if err != nil {
		t.Fatalf("new keychain: %v", err)
	}
	return kc, keys
}

func TestHashAPIKeyFormat(t *testing.T) {
	entry, err := HashAPIKey("viewer", "topsecret")
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	parts := strings.Split(entry, ":")
	if len(parts) != 3 || parts[0] != "viewer" {
		t.Fatalf("unexpected entry format %q", entry)
	}
	if _, err := HashAPIKey("bad:name", "key"); err == nil {
		t.Fatal("expected error for colon in name")
	}
	if _, err := HashAPIKey("viewer", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestKeychainVerify(t *testing.T) {
	kc, keys := newTestKeychain(t, "viewer", "player")

	identity, err := kc.Verify(keys["player"])
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Name != "player" {
		t.Fatalf("identity: got %q, want player", identity.Name)
	}
	// verified keys are cached; a second verify must agree
	identity, err = kc.Verify(keys["player"])
	if err != nil || identity.Name != "player" {
		t.Fatalf("cached verify: %v %+v", err, identity)
	}

	if _, err := kc.Verify("wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong key: got %v, want ErrUnauthenticated", err)
	}
	if _, err := kc.Verify(""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty key: got %v, want ErrUnauthenticated", err)
	}
}

func TestKeychainRejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{"", "name-only", "name:nothex:aa", ":aabb:ccdd"} {
		if _, err := NewKeychain([]string{entry}); err == nil {
			t.Errorf("NewKeychain accepted %q", entry)
		}
	}
	if _, err := NewKeychain(nil); err == nil {
		t.Error("NewKeychain accepted an empty keychain")
	}
}

func TestAuthenticateBearerHeader(t *testing.T) {
	kc, keys := newTestKeychain(t, "viewer")

	r := httptest.NewRequest("GET", "/api/assets", nil)
	r.Header.Set("Authorization", "Bearer "+keys["viewer"])
	identity, err := kc.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.Name != "viewer" {
		t.Fatalf("identity: got %q, want viewer", identity.Name)
	}

	r = httptest.NewRequest("GET", "/api/assets", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := kc.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("non-bearer scheme: got %v, want ErrUnauthenticated", err)
	}

	r = httptest.NewRequest("GET", "/api/assets", nil)
	if _, err := kc.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing credential: got %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateCookieFallback(t *testing.T) {
	kc, keys := newTestKeychain(t, "viewer")

	r := httptest.NewRequest("GET", "/api/assets/a/480p/segments/index0.ts", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: keys["viewer"]})
	identity, err := kc.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate via cookie: %v", err)
	}
	if identity.Name != "viewer" {
		t.Fatalf("identity: got %q, want viewer", identity.Name)
	}
}
