// gateway/cache/keys.go
package cache

import "fmt"

// Key builders for the gateway keyspaces. Every key the gateway writes goes
// through one of these so the prefixes live in exactly one place.

// SessionSetKey holds the set of live session IDs for a subject.
func SessionSetKey(subjectID string) string {
	return fmt.Sprintf("session-set:%s", subjectID)
}

// SessionActivityKey is the per-session liveness key; its TTL defines how
// long an idle session stays active.
func SessionActivityKey(sessionID string) string {
	return fmt.Sprintf("session-activity:%s", sessionID)
}

// RateLimitKey is the fixed-window counter for an identifier.
func RateLimitKey(identifier string) string {
	return fmt.Sprintf("ratelimit:%s", identifier)
}

// IdentityKey caches the resolved identity for a subject.
func IdentityKey(subjectID string) string {
	return fmt.Sprintf("identity-cache:%s", subjectID)
}

// BlacklistKey marks a revoked token by its hash.
func BlacklistKey(tokenHash string) string {
	return fmt.Sprintf("blacklist:%s", tokenHash)
}
