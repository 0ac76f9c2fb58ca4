// Package certificate issues and verifies keyed-hash certificates binding a
// promise identity to a public key and a credential fingerprint.
//
// The authority key is SHA-256 of a shared secret. With the default secret
// the key is a single long-lived constant; deployments should provision
// authority.secret through config (see internal/config).
package certificate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/pledge/internal/canon"
	"github.com/majorcontext/pledge/internal/log"
)

const (
	// DefaultIssuer names the built-in authority.
	DefaultIssuer = "Pledge Certificate Authority"
	// DefaultSecret is the fallback shared secret when none is provisioned.
	DefaultSecret = "pledge-certificate-authority-shared-secret"
)

// ErrMalformedCertificate is returned by Decode for undecodable or
// incomplete certificates.
var ErrMalformedCertificate = errors.New("malformed certificate")

// Data is the signed portion of a certificate. Field order is canonical.
type Data struct {
	PromiseID       string `json:"promiseId"`
	PublicKey       string `json:"publicKey"`
	FingerprintHash string `json:"fingerprintHash"`
	IssuedAt        int64  `json:"issuedAt"` // milliseconds since epoch
	Issuer          string `json:"issuer"`
}

// Certificate is the decoded wire form.
type Certificate struct {
	Data      Data   `json:"data"`
	Signature string `json:"signature"` // hex HMAC-SHA256
}

// IssuedTime returns IssuedAt as a time.Time.
func (c *Certificate) IssuedTime() time.Time {
	return time.UnixMilli(c.Data.IssuedAt).UTC()
}

// Authority issues and verifies certificates.
type Authority struct {
	issuer string
	key    [32]byte
	now    func() time.Time
}

// NewAuthority returns an authority keyed by SHA-256(secret). Empty values
// fall back to DefaultSecret and DefaultIssuer.
func NewAuthority(secret, issuer string) *Authority {
	if secret == "" {
		secret = DefaultSecret
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Authority{
		issuer: issuer,
		key:    sha256.Sum256([]byte(secret)),
		now:    time.Now,
	}
}

// Issuer returns the authority name written into certificates.
func (a *Authority) Issuer() string {
	return a.issuer
}

// Issue returns a base64 certificate over the promise, key and fingerprint.
func (a *Authority) Issue(promiseID, publicKey, fingerprintHash string) (string, error) {
	if promiseID == "" || publicKey == "" || fingerprintHash == "" {
		return "", fmt.Errorf("issuing certificate: promiseId, publicKey and fingerprintHash are required")
	}
	data := Data{
		PromiseID:       promiseID,
		PublicKey:       publicKey,
		FingerprintHash: fingerprintHash,
		IssuedAt:        a.now().UnixMilli(),
		Issuer:          a.issuer,
	}
	sig, err := a.sign(data)
	if err != nil {
		return "", fmt.Errorf("issuing certificate: %w", err)
	}
	out, err := json.Marshal(Certificate{Data: data, Signature: hex.EncodeToString(sig)})
	if err != nil {
		return "", fmt.Errorf("marshaling certificate: %w", err)
	}
	log.Debug("certificate issued", "promise_id", promiseID, "issuer", a.issuer)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Verify reports whether certificate carries a valid authority signature
// and, when publicKey is non-empty, is bound to that key. It never errors.
func (a *Authority) Verify(certificate, publicKey string) bool {
	c, err := Decode(certificate)
	if err != nil {
		log.Debug("certificate rejected", "error", err)
		return false
	}
	return a.VerifyDecoded(c, publicKey)
}

// VerifyDecoded is Verify for an already decoded certificate.
func (a *Authority) VerifyDecoded(c *Certificate, publicKey string) bool {
	got, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	want, err := a.sign(c.Data)
	if err != nil {
		return false
	}
	if !hmac.Equal(got, want) {
		log.Debug("certificate signature mismatch", "promise_id", c.Data.PromiseID)
		return false
	}
	if publicKey != "" && subtle.ConstantTimeCompare([]byte(publicKey), []byte(c.Data.PublicKey)) != 1 {
		log.Debug("certificate bound to a different key", "promise_id", c.Data.PromiseID)
		return false
	}
	return true
}

func (a *Authority) sign(d Data) ([]byte, error) {
	msg, err := canon.Marshal(d)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, a.key[:])
	mac.Write(msg)
	return mac.Sum(nil), nil
}

// rawCertificate uses pointers so absent fields can be told apart from
// zero values.
type rawCertificate struct {
	Data *struct {
		PromiseID       *string `json:"promiseId"`
		PublicKey       *string `json:"publicKey"`
		FingerprintHash *string `json:"fingerprintHash"`
		IssuedAt        *int64  `json:"issuedAt"`
		Issuer          *string `json:"issuer"`
	} `json:"data"`
	Signature *string `json:"signature"`
}

// Decode parses a base64 certificate without checking its signature.
func Decode(certificate string) (*Certificate, error) {
	raw, err := base64.StdEncoding.DecodeString(certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrMalformedCertificate)
	}
	var rc rawCertificate
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedCertificate, err)
	}
	if rc.Data == nil || rc.Signature == nil {
		return nil, fmt.Errorf("%w: missing data or signature", ErrMalformedCertificate)
	}
	d := rc.Data
	if d.PromiseID == nil || d.PublicKey == nil || d.FingerprintHash == nil || d.IssuedAt == nil || d.Issuer == nil {
		return nil, fmt.Errorf("%w: missing data field", ErrMalformedCertificate)
	}
	return &Certificate{
		Data: Data{
			PromiseID:       *d.PromiseID,
			PublicKey:       *d.PublicKey,
			FingerprintHash: *d.FingerprintHash,
			IssuedAt:        *d.IssuedAt,
			Issuer:          *d.Issuer,
		},
		Signature: *rc.Signature,
	}, nil
}

// FingerprintHash returns hex(SHA-256(credentialID)).
func FingerprintHash(credentialID string) string {
	sum := sha256.Sum256([]byte(credentialID))
	return hex.EncodeToString(sum[:])
}
