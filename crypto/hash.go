package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashParts hashes parts joined by ":". Callers use it for identifiers that
// must be reproducible from their inputs, such as draw tokens.
func HashParts(parts ...string) string {
	return Hash([]byte(strings.Join(parts, ":")))
}
