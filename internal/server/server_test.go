package server

import (
	"testing"
	"time"

	"videoflix/internal/api"
	"videoflix/internal/artifact"
	"videoflix/internal/auth"
	"videoflix/internal/registry"
)

func newTestHandler(t *testing.T) *api.Handler {
	t.Helper()
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	entry, err := auth.HashAPIKey("svc", "secret")
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	keychain, err := auth.NewKeychain([]string{entry})
	if err != nil {
		t.Fatalf("keychain: %v", err)
	}
	return api.NewHandler(api.Options{
		Registry:      registry.NewMemoryStore(),
		Artifacts:     artifacts,
		Authenticator: keychain,
		Labels:        []string{"480p"},
	})
}

func TestServerAppliesReadTimeout(t *testing.T) {
	t.Parallel()

	srv := New(newTestHandler(t), Config{Addr: "127.0.0.1:0", ReadTimeout: 45 * time.Second})
	if srv.httpServer.ReadTimeout != 45*time.Second {
		t.Fatalf("read timeout not applied: %v", srv.httpServer.ReadTimeout)
	}
}

func TestServerDefaultsReadTimeout(t *testing.T) {
	t.Parallel()

	srv := New(newTestHandler(t), Config{Addr: "127.0.0.1:0"})
	if srv.httpServer.ReadTimeout != DefaultReadTimeout {
		t.Fatalf("expected default read timeout, got %v", srv.httpServer.ReadTimeout)
	}
}
