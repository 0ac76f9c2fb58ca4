// Package artifact builds and verifies standalone signed-promise files.
//
// Two artifact shapes exist, told apart by the "kind" field:
//
//   - self-signed: carries the WebAuthn assertion, the signer's public key
//     and the content-bound challenge, so it verifies with no network access.
//   - fingerprint-record: a stored promise carrying only the credential
//     fingerprint and the authority certificate. Verifying it needs the
//     authority key, so it is an online check.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/challenge"
)

// Kind discriminates artifact shapes.
type Kind string

const (
	KindSelfSigned        Kind = "self-signed"
	KindFingerprintRecord Kind = "fingerprint-record"
)

var (
	// ErrMalformedArtifact is returned by Decode for unparsable input.
	ErrMalformedArtifact = errors.New("malformed artifact")
	// ErrUnknownKind is returned by Decode for a missing or unknown kind.
	ErrUnknownKind = errors.New("unknown artifact kind")
)

// Artifact is implemented by *Signed and *Record only.
type Artifact interface {
	Kind() Kind
	isArtifact()
}

// Creator identifies the promise author.
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Source holds the promise fields an artifact is built from.
type Source struct {
	ID           string
	Title        string
	Content      string
	DeliveryDate string
	CreatedAt    time.Time
	Creator      Creator
}

// Snapshot returns the facts the signature commits to.
func (s Source) Snapshot() challenge.Snapshot {
	return challenge.Snapshot{
		ID:           s.ID,
		Title:        s.Title,
		Content:      s.Content,
		DeliveryDate: s.DeliveryDate,
		CreatorID:    s.Creator.ID,
	}
}

// Signed is the self-contained, offline-verifiable artifact.
type Signed struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Content          string              `json:"content"`
	DeliveryDate     string              `json:"deliveryDate"`
	CreatedAt        time.Time           `json:"createdAt"`
	ArchivedAt       int64               `json:"archivedAt"` // ms; input to the archive key
	Creator          Creator             `json:"creator"`
	EncryptedContent string              `json:"encryptedContent"`
	Signature        assertion.Assertion `json:"signature"`
	PublicKey        string              `json:"publicKey"`
	Challenge        string              `json:"challenge"`
	RPID             string              `json:"rpId"`
}

// Kind returns KindSelfSigned.
func (*Signed) Kind() Kind { return KindSelfSigned }
func (*Signed) isArtifact() {}

// Snapshot recomputes the signed facts from the artifact's own fields.
func (s *Signed) Snapshot() challenge.Snapshot {
	return challenge.Snapshot{
		ID:           s.ID,
		Title:        s.Title,
		Content:      s.Content,
		DeliveryDate: s.DeliveryDate,
		CreatorID:    s.Creator.ID,
	}
}

// MarshalJSON writes the kind discriminator first.
func (s *Signed) MarshalJSON() ([]byte, error) {
	type alias Signed
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		*alias
	}{KindSelfSigned, (*alias)(s)})
}

// Record is a stored promise carrying only its credential fingerprint and
// authority certificate.
type Record struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	DeliveryDate    string    `json:"deliveryDate"`
	CreatedAt       time.Time `json:"createdAt"`
	Creator         Creator   `json:"creator"`
	CredentialID    string    `json:"credentialId,omitempty"`
	FingerprintHash string    `json:"fingerprintHash"`
	PublicKey       string    `json:"publicKey"`
	Certificate     string    `json:"certificate"`
}

// Kind returns KindFingerprintRecord.
func (*Record) Kind() Kind { return KindFingerprintRecord }
func (*Record) isArtifact() {}

// MarshalJSON writes the kind discriminator first.
func (r *Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		*alias
	}{KindFingerprintRecord, (*alias)(r)})
}

// Decode parses an artifact file, dispatching on its kind.
func Decode(data []byte) (Artifact, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	switch head.Kind {
	case KindSelfSigned:
		var s Signed
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
		}
		return &s, nil
	case KindFingerprintRecord:
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Kind)
	}
}

// Encode returns the indented JSON file form of a.
func Encode(a Artifact) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
