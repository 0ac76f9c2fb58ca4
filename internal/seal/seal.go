// Package seal encrypts a promise's sensitive payload into a portable
// envelope.
//
// Envelopes use AES-256-GCM with a 128-bit nonce and the fixed associated
// data AssociatedData. Seal generates a fresh key and nonce per call and
// stores the key in the envelope next to the ciphertext it protects, so the
// envelope is tamper-evident but offers no confidentiality against anyone
// who holds it. Callers needing secrecy must use SealContent with a key the
// holder does not receive.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/majorcontext/pledge/internal/canon"
	"github.com/majorcontext/pledge/internal/log"
)

const (
	// AssociatedData authenticates every envelope without being encrypted.
	AssociatedData = "promise-auth-context"
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (128 bits).
	NonceSize = 16
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Payload is the plaintext sealed inside an envelope.
type Payload struct {
	Content            string `json:"content"`
	PrivateKeyMaterial string `json:"privateKeyMaterial"`
	Fingerprint        string `json:"fingerprint"`
	Timestamp          int64  `json:"timestamp"` // milliseconds since epoch
}

// SealedAt returns Timestamp as a time.
func (p *Payload) SealedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// envelope is the outer wire format. All fields are hex.
type envelope struct {
	Key        string `json:"key"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts content, key material and fingerprint into a new envelope.
func Seal(content, privateKeyMaterial, fingerprintToken string) (string, error) {
	return sealAt(content, privateKeyMaterial, fingerprintToken, time.Now())
}

func sealAt(content, privateKeyMaterial, fingerprintToken string, now time.Time) (string, error) {
	plaintext, err := canon.Marshal(Payload{
		Content:            content,
		PrivateKeyMaterial: privateKeyMaterial,
		Fingerprint:        fingerprintToken,
		Timestamp:          now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext, tag, err := encrypt(key, nonce, plaintext)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(envelope{
		Key:        hex.EncodeToString(key),
		IV:         hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(tag),
		Ciphertext: hex.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling envelope: %w", err)
	}
	log.Debug("sealed envelope", "bytes", len(plaintext))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts an envelope produced by Seal.
func Open(sealed string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid base64", Err: err}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecryptionError{Reason: "invalid envelope JSON", Err: err}
	}

	key, err := decodeHex("key", env.Key, KeySize)
	if err != nil {
		return nil, err
	}
	plaintext, err := decryptFields(key, env.IV, env.AuthTag, env.Ciphertext)
	if err != nil {
		return nil, err
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, &DecryptionError{Reason: "invalid payload JSON", Err: err}
	}
	return &p, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// encrypt returns ciphertext and tag separately; Go's AEAD appends the tag.
func encrypt(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, []byte(AssociatedData))
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], nil
}

func decryptFields(key []byte, ivHex, tagHex, ciphertextHex string) ([]byte, error) {
	nonce, err := decodeHex("iv", ivHex, NonceSize)
	if err != nil {
		return nil, err
	}
	tag, err := decodeHex("authTag", tagHex, TagSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decodeHex("ciphertext", ciphertextHex, -1)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, &DecryptionError{Reason: "cipher setup", Err: err}
	}
	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), []byte(AssociatedData))
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return plaintext, nil
}

// decodeHex decodes a hex field, enforcing size when size >= 0.
func decodeHex(field, s string, size int) ([]byte, error) {
	if s == "" && size != -1 {
		return nil, &DecryptionError{Reason: "missing " + field}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid hex in " + field, Err: err}
	}
	if size >= 0 && len(b) != size {
		return nil, &DecryptionError{Reason: fmt.Sprintf("%s must be %d bytes, got %d", field, size, len(b))}
	}
	return b, nil
}
