package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a stable, non-reversible identifier from a token. It
// scopes cache entries and, without user auth, preference profiles.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}
