// gateway/model/decision.go
package model

import "time"

// Decision outcomes for the audit trail.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// AuthDecision is the outcome of one pass through the security pipeline. It
// is published on the event bus and indexed by the audit trail; it never
// carries the token itself.
type AuthDecision struct {
	RequestID string    `json:"request_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
