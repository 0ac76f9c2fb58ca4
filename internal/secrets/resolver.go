// Package secrets resolves the certificate authority secret from literal
// values, the system keychain, or external backends addressed by URI
// (env://, ssm://, awssm://).
package secrets

import (
	"context"
	"strings"
	"sync"

	"github.com/majorcontext/pledge/internal/log"
)

// Resolver resolves a secret reference to its plaintext value.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles (e.g., "ssm").
	Scheme() string

	// Resolve fetches the secret for the full reference URI.
	Resolve(ctx context.Context, reference string) (string, error)
}

var (
	resolvers = make(map[string]Resolver)
	mu        sync.RWMutex
)

// Register adds r to the registry, replacing any resolver for its scheme.
func Register(r Resolver) {
	mu.Lock()
	defer mu.Unlock()
	resolvers[r.Scheme()] = r
}

// Resolve dispatches reference to the resolver for its scheme.
func Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	mu.RLock()
	r, ok := resolvers[scheme]
	mu.RUnlock()

	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}
	logger := log.With("scheme", scheme)
	v, err := r.Resolve(ctx, reference)
	if err != nil {
		logger.Debug("secret resolution failed", "error", err)
		return "", err
	}
	logger.Debug("secret resolved")
	return v, nil
}

// IsReference reports whether s looks like a scheme://... reference.
func IsReference(s string) bool {
	return parseScheme(s) != ""
}

func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	return ref[:idx]
}

func clearRegistry() {
	mu.Lock()
	defer mu.Unlock()
	resolvers = make(map[string]Resolver)
}
