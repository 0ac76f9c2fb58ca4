// Package challenge binds WebAuthn challenges to exact promise snapshots and
// tracks outstanding challenges until they are used.
package challenge

import (
	"encoding/base64"

	"github.com/majorcontext/pledge/internal/canon"
)

// Snapshot is the exact set of facts a signature commits to.
// Field order is the canonical key order and must not change.
type Snapshot struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	DeliveryDate string `json:"deliveryDate"`
	CreatorID    string `json:"creatorId"`
}

// Validate reports a field that cannot be canonicalised, wrapping
// canon.ErrInvalidUTF8.
func (s Snapshot) Validate() error {
	return canon.CheckUTF8(s)
}

// Derive returns base64url(SHA-256(canonical JSON of s)) without padding.
// It returns "" for a snapshot that fails Validate; an empty challenge
// never verifies.
func Derive(s Snapshot) string {
	sum, _, err := canon.Sum256(s)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
