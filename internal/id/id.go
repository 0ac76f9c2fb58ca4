// Package id generates prefixed identifiers for promises and users.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Prefixes used across pledge.
const (
	PrefixPromise = "prm"
	PrefixUser    = "usr"
)

var pattern = regexp.MustCompile(`^[a-z]+_[0-9a-f]{12}$`)

// Generate creates a unique identifier with the given prefix.
// Format: <prefix>_<12 hex chars> (e.g., "prm_0a1b2c3d4e5f").
func Generate(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("id: crypto/rand failed: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b)
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
