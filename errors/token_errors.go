// gateway/errors/token_errors.go
package errors

import "errors"

var (
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrSessionMismatch  = errors.New("token session mismatch")
)
