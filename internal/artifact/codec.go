package artifact

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/canon"
	"github.com/majorcontext/pledge/internal/certificate"
	"github.com/majorcontext/pledge/internal/challenge"
	"github.com/majorcontext/pledge/internal/log"
	"github.com/majorcontext/pledge/internal/seal"
)

var (
	// ErrChallengeMismatch is returned by Build when the challenge was not
	// derived from the source snapshot.
	ErrChallengeMismatch = errors.New("challenge does not match promise snapshot")
	// ErrNotVerified is returned by OpenArchive for artifacts that fail
	// verification.
	ErrNotVerified = errors.New("artifact failed verification")
)

// Result reports every verification sub-check. Verify never returns an
// error; structural problems are listed in ErrorDetails.
type Result struct {
	Kind             Kind     `json:"kind,omitempty"`
	Valid            bool     `json:"isValid"`
	SignatureValid   bool     `json:"isSignatureValid"`
	ChallengeValid   bool     `json:"isChallengeValid"`
	ClientDataValid  bool     `json:"isClientDataValid"`
	DataIntact       bool     `json:"isDataIntact"`
	CertificateValid bool     `json:"isCertificateValid,omitempty"`
	FingerprintValid bool     `json:"isFingerprintValid,omitempty"`
	Creator          *Creator `json:"creator,omitempty"`
	ErrorDetails     string   `json:"errorDetails,omitempty"`

	failures []string
}

func (r *Result) fail(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
	r.ErrorDetails = strings.Join(r.failures, "; ")
}

// Reject marks the result invalid with an additional failure.
func (r *Result) Reject(format string, args ...any) {
	r.Valid = false
	r.fail(format, args...)
}

// Failures returns the individual failed sub-checks.
func (r *Result) Failures() []string {
	return append([]string(nil), r.failures...)
}

// Codec builds and verifies artifacts.
type Codec struct {
	// RPID is the relying party checked against the client data origin and
	// the artifact's rpId. Self-signed artifacts never verify without it.
	RPID string
	// Authority verifies fingerprint-record certificates. It may be nil for
	// offline use, in which case records never verify.
	Authority *certificate.Authority

	now func() time.Time
}

// NewCodec returns a codec for rpID.
func NewCodec(rpID string, authority *certificate.Authority) *Codec {
	return &Codec{RPID: rpID, Authority: authority, now: time.Now}
}

// Build assembles a self-signed artifact. The archived copy of the content
// is sealed under a key derived from "<id>-<creatorId>-<archivedAt>".
func (c *Codec) Build(src Source, a assertion.Assertion, publicKey, challengeValue string) (*Signed, error) {
	if err := canon.CheckUTF8(src); err != nil {
		return nil, fmt.Errorf("promise fields: %w", err)
	}
	if challenge.Derive(src.Snapshot()) != challengeValue {
		return nil, ErrChallengeMismatch
	}
	archivedAt := c.clock().UnixMilli()
	key := seal.DeriveArchiveKey(src.ID, src.Creator.ID, archivedAt)
	encrypted, err := seal.SealContent(src.Content, key)
	if err != nil {
		return nil, fmt.Errorf("archiving content: %w", err)
	}
	log.Debug("artifact built", "promise_id", src.ID)
	return &Signed{
		ID:               src.ID,
		Title:            src.Title,
		Content:          src.Content,
		DeliveryDate:     src.DeliveryDate,
		CreatedAt:        src.CreatedAt.UTC(),
		ArchivedAt:       archivedAt,
		Creator:          src.Creator,
		EncryptedContent: encrypted,
		Signature:        a,
		PublicKey:        publicKey,
		Challenge:        challengeValue,
		RPID:             c.RPID,
	}, nil
}

// Record assembles a fingerprint record from a stored promise.
func (c *Codec) Record(src Source, credentialID, fingerprintHash, publicKey, cert string) *Record {
	return &Record{
		ID:              src.ID,
		Title:           src.Title,
		Content:         src.Content,
		DeliveryDate:    src.DeliveryDate,
		CreatedAt:       src.CreatedAt.UTC(),
		Creator:         src.Creator,
		CredentialID:    credentialID,
		FingerprintHash: fingerprintHash,
		PublicKey:       publicKey,
		Certificate:     cert,
	}
}

func (c *Codec) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// Verify checks a and never panics on adversarial input.
func (c *Codec) Verify(a Artifact) *Result {
	switch v := a.(type) {
	case *Signed:
		if v == nil {
			break
		}
		return c.verifySigned(v)
	case *Record:
		if v == nil {
			break
		}
		return c.verifyRecord(v)
	}
	r := &Result{}
	r.fail("data integrity: no artifact")
	return r
}

// VerifyBytes decodes and verifies an artifact file.
func (c *Codec) VerifyBytes(data []byte) *Result {
	a, err := Decode(data)
	if err != nil {
		r := &Result{}
		r.fail("data integrity: %v", err)
		return r
	}
	return c.Verify(a)
}

func (c *Codec) verifySigned(s *Signed) *Result {
	r := &Result{Kind: KindSelfSigned}
	creator := s.Creator
	r.Creator = &creator

	missing := missingFields(map[string]string{
		"id":                          s.ID,
		"title":                       s.Title,
		"content":                     s.Content,
		"deliveryDate":                s.DeliveryDate,
		"creator.id":                  s.Creator.ID,
		"publicKey":                   s.PublicKey,
		"challenge":                   s.Challenge,
		"signature.clientDataJSON":    s.Signature.ClientDataJSON,
		"signature.authenticatorData": s.Signature.AuthenticatorData,
		"signature.signature":         s.Signature.Signature,
	})
	r.DataIntact = len(missing) == 0
	if !r.DataIntact {
		r.fail("data integrity: missing %s", strings.Join(missing, ", "))
	}
	if err := canon.CheckUTF8(s); err != nil {
		r.DataIntact = false
		r.fail("data integrity: %v", err)
	}

	expected := challenge.Derive(s.Snapshot())
	r.ChallengeValid = s.Challenge != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(s.Challenge)) == 1
	if !r.ChallengeValid {
		r.fail("challenge: artifact fields do not match the signed challenge")
	}

	rpID := c.RPID
	ar, err := assertion.NewVerifier(rpID).Verify(s.Signature, s.PublicKey, s.Challenge)
	if err != nil {
		r.fail("signature: %v", err)
	} else {
		r.ClientDataValid = ar.ClientDataValid
		r.SignatureValid = ar.SignatureValid
		switch {
		case rpID == "":
			r.ClientDataValid = false
			r.fail("client data: no relying party configured")
		case s.RPID != rpID:
			r.ClientDataValid = false
			r.fail("client data: artifact rpId %q does not match relying party %q", s.RPID, rpID)
		case !ar.ClientDataValid:
			r.fail("client data: challenge, type or origin rejected for relying party %q", rpID)
		}
		if !ar.SignatureValid {
			r.fail("signature: assertion does not verify with the embedded public key")
		}
	}

	r.Valid = r.ChallengeValid && r.ClientDataValid && r.SignatureValid && r.DataIntact
	if !r.Valid {
		log.Debug("artifact rejected", "promise_id", s.ID, "details", r.ErrorDetails)
	}
	return r
}

func (c *Codec) verifyRecord(rec *Record) *Result {
	r := &Result{Kind: KindFingerprintRecord}
	creator := rec.Creator
	r.Creator = &creator

	missing := missingFields(map[string]string{
		"id":              rec.ID,
		"title":           rec.Title,
		"content":         rec.Content,
		"deliveryDate":    rec.DeliveryDate,
		"creator.id":      rec.Creator.ID,
		"fingerprintHash": rec.FingerprintHash,
		"publicKey":       rec.PublicKey,
		"certificate":     rec.Certificate,
	})
	r.DataIntact = len(missing) == 0
	if !r.DataIntact {
		r.fail("data integrity: missing %s", strings.Join(missing, ", "))
	}
	if err := canon.CheckUTF8(rec); err != nil {
		r.DataIntact = false
		r.fail("data integrity: %v", err)
	}

	cert, err := certificate.Decode(rec.Certificate)
	switch {
	case err != nil:
		r.fail("certificate: %v", err)
	case c.Authority == nil:
		r.fail("certificate: no authority configured; fingerprint records verify online only")
	default:
		r.CertificateValid = c.Authority.VerifyDecoded(cert, rec.PublicKey) && cert.Data.PromiseID == rec.ID
		if !r.CertificateValid {
			r.fail("certificate: signature invalid or bound to a different promise or key")
		}
	}

	r.FingerprintValid = rec.FingerprintHash != "" && cert != nil &&
		subtle.ConstantTimeCompare([]byte(rec.FingerprintHash), []byte(cert.Data.FingerprintHash)) == 1
	if rec.CredentialID != "" && certificate.FingerprintHash(rec.CredentialID) != rec.FingerprintHash {
		r.FingerprintValid = false
	}
	if !r.FingerprintValid {
		r.fail("fingerprint: does not match the certificate or credential")
	}

	r.Valid = r.DataIntact && r.CertificateValid && r.FingerprintValid
	return r
}

// OpenArchive returns the archived content once the artifact verifies.
// No plaintext is returned when any check fails.
func (c *Codec) OpenArchive(s *Signed) (string, *Result, error) {
	r := c.Verify(s)
	if !r.Valid {
		return "", r, ErrNotVerified
	}
	key := seal.DeriveArchiveKey(s.ID, s.Creator.ID, s.ArchivedAt)
	content, err := seal.OpenContent(s.EncryptedContent, key)
	if err != nil {
		return "", r, err
	}
	if content != s.Content {
		return "", r, fmt.Errorf("%w: archived content differs from signed content", ErrNotVerified)
	}
	return content, r, nil
}

// missingFields returns the sorted names of empty values.
func missingFields(fields map[string]string) []string {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
