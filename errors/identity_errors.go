// gateway/errors/identity_errors.go
package errors

import "errors"

var (
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
	ErrIdentityRejected    = errors.New("identity provider rejected token")
	ErrIdentityNotFound    = errors.New("identity not found")
)
