// Package auth gates the delivery surface. The gateway consumes the
// Authenticator contract only; the keychain implementation verifies
// presented API keys against PBKDF2 digests loaded from configuration.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnauthenticated is returned when a request carries no credential or a
// credential that does not verify against the keychain.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity describes the verified caller of a delivery request.
type Identity struct {
	Name string
}

// Authenticator validates the credential on an incoming request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

type identityContextKey struct{}

// ContextWithIdentity stores the verified identity on the request context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
