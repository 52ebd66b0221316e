package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	apiKeyHashIterations = 210000
	apiKeyHashKeyLength  = 32
	apiKeyHashSaltLength = 16

	// CookieName is the cookie checked when no Authorization header is
	// present, so browser <video> elements can fetch segments directly.
	CookieName = "videoflix_key"
)

// keyEntry is one parsed keychain line.
type keyEntry struct {
	name string
	salt []byte
	hash []byte
}

// Keychain verifies presented API keys against configured PBKDF2 digests.
// Verification is expensive, so keys that have already verified are cached
// by their SHA-256 fingerprint for the life of the process.
type Keychain struct {
	entries []keyEntry

	mu       sync.RWMutex
	verified map[string]Identity
}

// NewKeychain parses configured key entries. Each entry is formatted
// name:salthex:hashhex as produced by HashAPIKey.
func NewKeychain(entries []string) (*Keychain, error) {
	kc := &Keychain{verified: make(map[string]Identity)}
	for _, raw := range entries {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("auth key %q: expected name:salthex:hashhex", raw)
		}
		salt, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("auth key %q: decode salt: %w", parts[0], err)
		}
		hash, err := hex.DecodeString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("auth key %q: decode hash: %w", parts[0], err)
		}
		if len(hash) == 0 {
			return nil, fmt.Errorf("auth key %q: empty hash", parts[0])
		}
		kc.entries = append(kc.entries, keyEntry{name: parts[0], salt: salt, hash: hash})
	}
	if len(kc.entries) == 0 {
		return nil, fmt.Errorf("auth keychain requires at least one key")
	}
	return kc, nil
}

// Authenticate extracts the request credential and verifies it.
func (k *Keychain) Authenticate(r *http.Request) (Identity, error) {
	key, ok := extractKey(r)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return k.Verify(key)
}

// Verify checks a raw API key against every keychain entry.
func (k *Keychain) Verify(key string) (Identity, error) {
	if key == "" {
		return Identity{}, ErrUnauthenticated
	}
	fingerprint := fingerprintKey(key)

	k.mu.RLock()
	identity, cached := k.verified[fingerprint]
	k.mu.RUnlock()
	if cached {
		return identity, nil
	}

	for _, entry := range k.entries {
		derived := pbkdf2.Key([]byte(key), entry.salt, apiKeyHashIterations, len(entry.hash), sha256.New)
		if subtle.ConstantTimeCompare(derived, entry.hash) == 1 {
			identity := Identity{Name: entry.name}
			k.mu.Lock()
			k.verified[fingerprint] = identity
			k.mu.Unlock()
			return identity, nil
		}
	}
	return Identity{}, ErrUnauthenticated
}

// HashAPIKey derives a keychain entry for a new key. Operators run this
// once and place the result in the configuration.
func HashAPIKey(name, key string) (string, error) {
	if name == "" || strings.Contains(name, ":") {
		return "", fmt.Errorf("key name must be non-empty and contain no colon")
	}
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	salt := make([]byte, apiKeyHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(key), salt, apiKeyHashIterations, apiKeyHashKeyLength, sha256.New)
	return fmt.Sprintf("%s:%s:%s", name, hex.EncodeToString(salt), hex.EncodeToString(derived)), nil
}

func fingerprintKey(key string) string {
	digest := sha256.Sum256([]byte(key))
	return hex.EncodeToString(digest[:])
}

func extractKey(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):]), true
		}
		return "", false
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
