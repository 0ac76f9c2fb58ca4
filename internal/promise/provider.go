package promise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/store"
)

// AssertionOptions is what an identity provider needs to start a WebAuthn
// get() ceremony.
type AssertionOptions struct {
	Challenge        string        `json:"challenge"`
	RPID             string        `json:"rpId"`
	AllowCredentials []string      `json:"allowCredentials"`
	Timeout          time.Duration `json:"timeout"`
}

// RegistrationResponse is the authenticator's answer to a registration
// ceremony, reduced to what pledge stores.
type RegistrationResponse struct {
	CredentialID string `json:"credentialId"`
	PublicKeyPEM string `json:"publicKey"`
	Counter      uint32 `json:"counter"`
	Challenge    string `json:"challenge"`
}

// VerifiedCredential is a registration accepted by the identity provider.
type VerifiedCredential struct {
	CredentialID string
	PublicKeyPEM string
	Counter      uint32
}

// IdentityProvider runs WebAuthn ceremonies with the user's authenticator.
type IdentityProvider interface {
	// BeginAssertion hands the assertion options to the authenticator.
	BeginAssertion(ctx context.Context, opts AssertionOptions) error
	// VerifyRegistration validates an attestation response.
	VerifyRegistration(ctx context.Context, userID string, resp RegistrationResponse) (*VerifiedCredential, error)
}

// CredentialStore holds registered credentials. *store.Store implements it.
type CredentialStore interface {
	Get(ctx context.Context, credentialID string) (*store.Credential, error)
	PutCredential(ctx context.Context, c *store.Credential) error
	UpdateCounter(ctx context.Context, credentialID string, counter uint32) error
}

// LocalProvider is an IdentityProvider for environments where the
// authenticator runs out of band: registrations carry the public key
// directly and assertion options are only logged.
type LocalProvider struct {
	// Options receives the last BeginAssertion call when non-nil.
	Options func(AssertionOptions)
}

// BeginAssertion records opts.
func (p *LocalProvider) BeginAssertion(ctx context.Context, opts AssertionOptions) error {
	if p.Options != nil {
		p.Options(opts)
	}
	return ctx.Err()
}

// VerifyRegistration checks that the response carries a usable public key.
func (p *LocalProvider) VerifyRegistration(ctx context.Context, userID string, resp RegistrationResponse) (*VerifiedCredential, error) {
	if resp.CredentialID == "" {
		return nil, errors.New("registration is missing a credential id")
	}
	if _, err := assertion.ParsePublicKey(resp.PublicKeyPEM); err != nil {
		return nil, fmt.Errorf("registration public key: %w", err)
	}
	return &VerifiedCredential{
		CredentialID: resp.CredentialID,
		PublicKeyPEM: resp.PublicKeyPEM,
		Counter:      resp.Counter,
	}, nil
}
