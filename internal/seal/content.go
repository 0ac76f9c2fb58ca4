package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// archiveInfo is the HKDF info string for artifact archival keys.
const archiveInfo = "pledge-artifact-archive-v1"

// contentEnvelope carries content sealed under a caller-held key.
// Unlike envelope, the key is never part of the wire format.
type contentEnvelope struct {
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
}

// DeriveArchiveKey derives the per-artifact key from
// "<promiseId>-<creatorId>-<timestampMs>" using HKDF-SHA256.
func DeriveArchiveKey(promiseID, creatorID string, timestampMs int64) []byte {
	ikm := []byte(promiseID + "-" + creatorID + "-" + strconv.FormatInt(timestampMs, 10))
	key := make([]byte, KeySize)
	// HKDF-SHA256 can expand to 255*32 bytes; 32 never fails.
	_, _ = io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(archiveInfo)), key)
	return key
}

// SealContent encrypts content alone under key.
func SealContent(content string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext, tag, err := encrypt(key, nonce, []byte(content))
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(contentEnvelope{
		IV:         hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(tag),
		Ciphertext: hex.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenContent decrypts an envelope produced by SealContent.
func OpenContent(sealed string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", &DecryptionError{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key))}
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64", Err: err}
	}
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &DecryptionError{Reason: "invalid envelope JSON", Err: err}
	}
	plaintext, err := decryptFields(key, env.IV, env.AuthTag, env.Ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
