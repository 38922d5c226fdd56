// gateway/model/identity.go
package model

import "time"

// Identity is the resolved principal attached to an authorized request.
// It is what the identity provider knows about a subject, cached under
// identity-cache:<subjectID>.
type Identity struct {
	SubjectID   string            `json:"subject_id"`
	DisplayName string            `json:"display_name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Roles       []string          `json:"roles"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

// Claims are the token claims the gateway inspects. Everything else the
// identity provider put in the token is opaque to us.
type Claims struct {
	SubjectID string
	SessionID string
	Roles     []string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// RemainingLifetime returns how long the token is still valid, zero if expired.
func (c *Claims) RemainingLifetime(now time.Time) time.Duration {
	if !c.ExpiresAt.After(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Grant is the authorization result attached to a request that passed the
// full security pipeline.
type Grant struct {
	Identity    *Identity `json:"identity"`
	Permissions []string  `json:"permissions"`
}
