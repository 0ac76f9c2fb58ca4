// Package assertion validates WebAuthn authentication assertions against an
// expected challenge and a registered public key.
package assertion

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/majorcontext/pledge/internal/log"
)

// ClientDataTypeGet is the clientData type of an authentication ceremony.
const ClientDataTypeGet = "webauthn.get"

// ErrMalformedAssertion is returned when an assertion or key cannot be
// parsed. All result booleans are false in that case.
var ErrMalformedAssertion = errors.New("malformed assertion")

// Assertion is produced by the identity provider. Binary fields are base64url.
type Assertion struct {
	CredentialID      string `json:"credentialId"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

// ClientData is the subset of collected client data pledge inspects.
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin,omitempty"`
}

// Result holds three independent checks; callers combine them.
type Result struct {
	ChallengeValid  bool `json:"isChallengeValid"`
	ClientDataValid bool `json:"isClientDataValid"`
	SignatureValid  bool `json:"isSignatureValid"`
}

// Valid reports whether every check passed.
func (r Result) Valid() bool {
	return r.ChallengeValid && r.ClientDataValid && r.SignatureValid
}

// Verifier checks assertions for one relying party.
type Verifier struct {
	// RPID must appear in the client data origin.
	RPID string
}

// NewVerifier returns a verifier for rpID.
func NewVerifier(rpID string) *Verifier {
	return &Verifier{RPID: rpID}
}

// Verify checks a against expectedChallenge and publicKeyPEM. Failed checks
// are reported in the result; only parse failures return an error, always
// wrapping ErrMalformedAssertion.
func (v *Verifier) Verify(a Assertion, publicKeyPEM, expectedChallenge string) (Result, error) {
	clientDataRaw, err := DecodeBase64URL(a.ClientDataJSON)
	if err != nil {
		return Result{}, fmt.Errorf("%w: clientDataJSON: %v", ErrMalformedAssertion, err)
	}
	var cd ClientData
	if err := json.Unmarshal(clientDataRaw, &cd); err != nil {
		return Result{}, fmt.Errorf("%w: clientDataJSON: %v", ErrMalformedAssertion, err)
	}
	authData, err := DecodeBase64URL(a.AuthenticatorData)
	if err != nil {
		return Result{}, fmt.Errorf("%w: authenticatorData: %v", ErrMalformedAssertion, err)
	}
	sig, err := DecodeBase64URL(a.Signature)
	if err != nil {
		return Result{}, fmt.Errorf("%w: signature: %v", ErrMalformedAssertion, err)
	}
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
	}

	var r Result
	r.ChallengeValid = expectedChallenge != "" && cd.Challenge == expectedChallenge
	r.ClientDataValid = r.ChallengeValid &&
		cd.Type == ClientDataTypeGet &&
		v.RPID != "" && strings.Contains(cd.Origin, v.RPID)

	clientDataHash := sha256.Sum256(clientDataRaw)
	message := make([]byte, 0, len(authData)+len(clientDataHash))
	message = append(message, authData...)
	message = append(message, clientDataHash[:]...)
	r.SignatureValid = verifySignature(pub, message, sig)

	if !r.Valid() {
		log.Debug("assertion checks failed",
			"credential_id", a.CredentialID,
			"challenge", r.ChallengeValid,
			"client_data", r.ClientDataValid,
			"signature", r.SignatureValid,
			"type", cd.Type)
	}
	return r, nil
}

// SignedMessage returns authenticatorData || SHA-256(clientDataJSON), the
// bytes an authenticator signs.
func SignedMessage(authenticatorData, clientDataJSON []byte) []byte {
	h := sha256.Sum256(clientDataJSON)
	return append(append([]byte{}, authenticatorData...), h[:]...)
}

// verifySignature dispatches on the key type. ECDSA signatures are ASN.1
// DER as WebAuthn produces them; RSA uses PKCS#1 v1.5 with SHA-256.
func verifySignature(pub crypto.PublicKey, message, sig []byte) bool {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		h := sha256.Sum256(message)
		return ecdsa.VerifyASN1(k, h[:], sig)
	case *rsa.PublicKey:
		h := sha256.Sum256(message)
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, h[:], sig) == nil
	case ed25519.PublicKey:
		return ed25519.Verify(k, message, sig)
	default:
		return false
	}
}

// DecodeBase64URL accepts base64url with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty value")
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
