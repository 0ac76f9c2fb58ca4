// Package keyring holds the HMAC secret the certificate authority signs
// promise certificates with when authority.secret is set to "keyring".
//
// Every certificate issued on a host is bound to this one secret, so it must
// survive restarts and must never be replaced behind the operator's back. The
// first run generates 32 random bytes and stores them in the OS credential
// store. Hosts without one (CI runners, containers) get
// $PLEDGE_HOME/authority.key instead. Once stored, a secret only goes away
// through `pledge authority reset`, which invalidates every certificate signed
// with it.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/majorcontext/pledge/internal/config"
	"github.com/majorcontext/pledge/internal/log"
)

const (
	// ServiceName is the credential store service. PLEDGE_KEYRING_SERVICE
	// overrides it so tests and parallel installs keep separate authorities.
	ServiceName = "pledge"
	// AccountName is the credential store entry for the authority secret.
	AccountName = "authority-secret"
	// SecretSize is the authority secret length in bytes.
	SecretSize = 32
)

// ErrInsecurePermissions means authority.key is readable by group or other.
// Anyone who can read it can forge certificates, so it is never loaded.
var ErrInsecurePermissions = errors.New("secret file has insecure permissions")

// Backend is one place the authority secret can live. Set must keep an
// existing secret rather than replace it.
type Backend interface {
	Get() ([]byte, error)
	Set(secret []byte) error
	Delete() error
	Name() string
}

func serviceName() string {
	if name := os.Getenv("PLEDGE_KEYRING_SERVICE"); name != "" {
		return name
	}
	return ServiceName
}

// SecretFilePath is where authority.key lives on hosts without a credential
// store. A non-default PLEDGE_KEYRING_SERVICE is named after the service.
func SecretFilePath() string {
	name := "authority.key"
	if svc := serviceName(); svc != ServiceName {
		name = svc + ".key"
	}
	return filepath.Join(config.GlobalConfigDir(), name)
}

func backends() []Backend {
	return []Backend{
		credentialStore{service: serviceName()},
		&fileBackend{path: SecretFilePath()},
	}
}

// GetOrCreateSecret loads the authority secret, generating it on the first
// call on this host. Concurrent first runs are serialized so they all end up
// signing with the same secret.
func GetOrCreateSecret() ([]byte, error) {
	release, err := acquire(filepath.Join(config.GlobalConfigDir(), "authority.lock"))
	if err != nil {
		return nil, fmt.Errorf("locking authority secret: %w", err)
	}
	defer release()

	return loadOrGenerate(backends())
}

// DeleteSecret forgets the authority secret everywhere it may be stored.
// Certificates signed with it stop verifying. Missing entries are fine; it
// fails only when no backend could be cleared.
func DeleteSecret() error {
	var errs []error
	for _, b := range backends() {
		if err := b.Delete(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(backends()) {
		return fmt.Errorf("deleting authority secret: %w", errors.Join(errs...))
	}
	return nil
}

func getOrCreate(primary, fallback Backend) ([]byte, error) {
	return loadOrGenerate([]Backend{primary, fallback})
}

// loadOrGenerate returns the first stored secret in order. With none stored
// it generates one and keeps it in the first backend that accepts it, reading
// it back so a secret written by a concurrent process wins.
func loadOrGenerate(order []Backend) ([]byte, error) {
	for _, b := range order {
		secret, err := b.Get()
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, ErrInsecurePermissions) {
			return nil, err
		}
	}

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generating authority secret: %w", err)
	}

	var errs []error
	for i, b := range order {
		if err := b.Set(secret); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if i > 0 {
			log.Info("credential store unavailable, authority secret kept on disk", "location", b.Name())
		}
		stored, err := b.Get()
		if err != nil {
			return nil, fmt.Errorf("reading back authority secret from %s: %w", b.Name(), err)
		}
		return stored, nil
	}
	return nil, fmt.Errorf("storing authority secret failed: %w", errors.Join(errs...))
}

// Secrets are stored as standard base64 text in both backends.
func encodeSecret(secret []byte) string {
	return base64.StdEncoding.EncodeToString(secret)
}

func decodeSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("authority secret is not base64: %w", err)
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("authority secret is %d bytes, want %d", len(secret), SecretSize)
	}
	return secret, nil
}

// credentialStore keeps the secret in the macOS Keychain, Windows Credential
// Manager or the Secret Service on Linux.
type credentialStore struct {
	service string
}

func (c credentialStore) Get() ([]byte, error) {
	encoded, err := keyring.Get(c.service, AccountName)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	return decodeSecret(encoded)
}

func (c credentialStore) Set(secret []byte) error {
	_, err := keyring.Get(c.service, AccountName)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, keyring.ErrNotFound):
		return fmt.Errorf("credential store: %w", err)
	}
	if err := keyring.Set(c.service, AccountName, encodeSecret(secret)); err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	return nil
}

func (c credentialStore) Delete() error {
	if err := keyring.Delete(c.service, AccountName); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("credential store: %w", err)
	}
	return nil
}

func (c credentialStore) Name() string { return "credential store" }

// fileBackend keeps the secret in a 0600 file. The file is created
// exclusively, so a second writer leaves the first secret in place.
type fileBackend struct {
	path string
}

func (f *fileBackend) Get() ([]byte, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("authority secret file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("authority secret file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s is %04o; chmod 600 it and run `pledge authority reset` if it may have leaked",
			ErrInsecurePermissions, f.path, perm)
	}
	data, err := io.ReadAll(io.LimitReader(file, 1024))
	if err != nil {
		return nil, fmt.Errorf("authority secret file: %w", err)
	}
	return decodeSecret(string(data))
}

func (f *fileBackend) Set(secret []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("authority secret directory: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	switch {
	case errors.Is(err, os.ErrExist):
		return nil
	case err != nil:
		return fmt.Errorf("authority secret file: %w", err)
	}
	_, werr := io.WriteString(file, encodeSecret(secret))
	if cerr := file.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		// A truncated file would fail every later Get.
		_ = os.Remove(f.path)
		return fmt.Errorf("authority secret file: %w", werr)
	}
	return nil
}

func (f *fileBackend) Delete() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("authority secret file: %w", err)
	}
	return nil
}

func (f *fileBackend) Name() string { return f.path }
