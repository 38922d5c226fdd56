// gateway/token/hash.go
package token

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex-encoded SHA-256 digest of a raw token. Blacklist
// keys are built from the digest so raw tokens never land in the cache cluster
// or in log output.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
