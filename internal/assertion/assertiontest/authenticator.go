// Package assertiontest provides a software authenticator that produces
// WebAuthn assertions for tests.
package assertiontest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/majorcontext/pledge/internal/assertion"
)

// Flags set in generated authenticator data: user present, user verified.
const flagsUPUV = 0x05

// Authenticator signs assertions with an in-memory key.
type Authenticator struct {
	// CredentialID is used verbatim as the assertion credentialId.
	CredentialID string
	RPID         string
	Origin       string
	UserHandle   string
	// Type overrides the client data type when non-empty.
	Type    string
	Counter uint32

	signer crypto.Signer
}

// NewECDSA returns a P-256 authenticator.
func NewECDSA(credentialID, rpID string) (*Authenticator, error) {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newAuthenticator(credentialID, rpID, k), nil
}

// NewRSA returns a 2048-bit RSA authenticator.
func NewRSA(credentialID, rpID string) (*Authenticator, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newAuthenticator(credentialID, rpID, k), nil
}

// NewEd25519 returns an Ed25519 authenticator.
func NewEd25519(credentialID, rpID string) (*Authenticator, error) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newAuthenticator(credentialID, rpID, k), nil
}

func newAuthenticator(credentialID, rpID string, signer crypto.Signer) *Authenticator {
	return &Authenticator{
		CredentialID: credentialID,
		RPID:         rpID,
		Origin:       "https://" + rpID,
		UserHandle:   "user-handle",
		signer:       signer,
	}
}

// PublicKeyPEM returns the PKIX PEM of the authenticator key.
func (a *Authenticator) PublicKeyPEM() string {
	s, err := assertion.EncodePublicKey(a.signer.Public())
	if err != nil {
		panic(err)
	}
	return s
}

// Assert signs challenge and increments the counter.
func (a *Authenticator) Assert(challenge string) (assertion.Assertion, error) {
	a.Counter++
	typ := a.Type
	if typ == "" {
		typ = assertion.ClientDataTypeGet
	}
	clientData, err := json.Marshal(assertion.ClientData{
		Type:      typ,
		Challenge: challenge,
		Origin:    a.Origin,
	})
	if err != nil {
		return assertion.Assertion{}, err
	}

	rpHash := sha256.Sum256([]byte(a.RPID))
	authData := make([]byte, 0, 37)
	authData = append(authData, rpHash[:]...)
	authData = append(authData, flagsUPUV)
	authData = binary.BigEndian.AppendUint32(authData, a.Counter)

	msg := assertion.SignedMessage(authData, clientData)
	var sig []byte
	if _, ok := a.signer.(ed25519.PrivateKey); ok {
		sig, err = a.signer.Sign(rand.Reader, msg, crypto.Hash(0))
	} else {
		digest := sha256.Sum256(msg)
		sig, err = a.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return assertion.Assertion{}, err
	}

	enc := base64.RawURLEncoding.EncodeToString
	return assertion.Assertion{
		CredentialID:      a.CredentialID,
		ClientDataJSON:    enc(clientData),
		AuthenticatorData: enc(authData),
		Signature:         enc(sig),
		UserHandle:        enc([]byte(a.UserHandle)),
	}, nil
}
