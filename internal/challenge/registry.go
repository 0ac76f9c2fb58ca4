package challenge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/majorcontext/pledge/internal/log"
)

// Purposes scope a subject's outstanding challenges.
const (
	PurposeRegistration = "registration"
	PurposeSigning      = "signing"
)

// DefaultTTL is how long an issued challenge stays redeemable.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds the registry; the least recently used entry is
// evicted first.
const DefaultMaxEntries = 10000

var (
	// ErrChallengeNotFound is returned when no live challenge exists for the
	// key, including when it has expired or was already consumed.
	ErrChallengeNotFound = errors.New("challenge not found or expired")
	// ErrChallengeMismatch is returned when the presented challenge differs
	// from the registered one. The registered entry is discarded.
	ErrChallengeMismatch = errors.New("challenge mismatch")
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	TTL        time.Duration
	MaxEntries int
	// Clock overrides the cache clock (for testing).
	Clock gcache.Clock
}

// Registry holds outstanding challenges keyed by (subject, purpose).
// Entries expire after the TTL and are removed on first redemption.
type Registry struct {
	mu    sync.Mutex
	cache gcache.Cache
	ttl   time.Duration
}

// NewRegistry creates a registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	b := gcache.New(opts.MaxEntries).LRU().Expiration(opts.TTL)
	if opts.Clock != nil {
		b = b.Clock(opts.Clock)
	}
	return &Registry{cache: b.Build(), ttl: opts.TTL}
}

func key(subject, purpose string) string {
	return subject + "\x00" + purpose
}

// Put registers challenge for (subject, purpose), replacing any previous one.
func (r *Registry) Put(subject, purpose, challenge string) error {
	if subject == "" || purpose == "" {
		return fmt.Errorf("subject and purpose are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.cache.SetWithExpire(key(subject, purpose), challenge, r.ttl); err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	log.Debug("challenge registered", "subject", subject, "purpose", purpose)
	return nil
}

// Issue generates a random 32-byte challenge, registers it and returns it
// base64url encoded. Used for ceremonies not bound to content.
func (r *Registry) Issue(subject, purpose string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	c := base64.RawURLEncoding.EncodeToString(b)
	if err := r.Put(subject, purpose, c); err != nil {
		return "", err
	}
	return c, nil
}

// Peek returns the live challenge for (subject, purpose) without consuming it.
func (r *Registry) Peek(subject, purpose string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.cache.Get(key(subject, purpose))
	if err != nil {
		return "", ErrChallengeNotFound
	}
	return v.(string), nil
}

// Consume redeems the challenge for (subject, purpose). The entry is removed
// whether or not presented matches, so each challenge is usable once.
func (r *Registry) Consume(subject, purpose, presented string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(subject, purpose)
	v, err := r.cache.Get(k)
	if err != nil {
		return ErrChallengeNotFound
	}
	r.cache.Remove(k)

	stored := v.(string)
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		log.Warn("challenge mismatch", "subject", subject, "purpose", purpose)
		return ErrChallengeMismatch
	}
	return nil
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return r.cache.Len(true)
}
