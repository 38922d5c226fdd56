// gateway/errors/session_errors.go
package errors

import "errors"

var (
	ErrSessionLimitExceeded = errors.New("concurrent session limit exceeded")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
)
