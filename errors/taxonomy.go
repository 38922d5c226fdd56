// gateway/errors/taxonomy.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Response codes carried in structured error bodies.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeSession        = "SESSION_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeDependency     = "DEPENDENCY_UNAVAILABLE"
)

// RateLimitInfo carries the window counters rendered as rate-limit response
// headers on 429s.
type RateLimitInfo struct {
	Limit     int
	Remaining int
}

// GatewayError is the one error shape the HTTP layer renders. Inner packages
// return sentinel errors; Classify folds them into a GatewayError exactly once.
type GatewayError struct {
	Code       string
	Status     int
	Message    string
	RetryAfter time.Duration
	RateLimit  *RateLimitInfo
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string, err error) *GatewayError {
	return &GatewayError{Code: CodeValidation, Status: http.StatusBadRequest, Message: message, Err: err}
}

func NewAuthenticationError(message string, err error) *GatewayError {
	return &GatewayError{Code: CodeAuthentication, Status: http.StatusUnauthorized, Message: message, Err: err}
}

func NewAuthorizationError(message string, err error) *GatewayError {
	return &GatewayError{Code: CodeAuthorization, Status: http.StatusForbidden, Message: message, Err: err}
}

func NewSessionError(message string, err error) *GatewayError {
	return &GatewayError{Code: CodeSession, Status: http.StatusUnauthorized, Message: message, Err: err}
}

func NewRateLimitError(message string, retryAfter time.Duration, err error) *GatewayError {
	return &GatewayError{Code: CodeRateLimit, Status: http.StatusTooManyRequests, Message: message, RetryAfter: retryAfter, Err: err}
}

func NewDependencyUnavailableError(message string, err error) *GatewayError {
	return &GatewayError{Code: CodeDependency, Status: http.StatusServiceUnavailable, Message: message, Err: err}
}

// Classify maps any error to the response taxonomy. Unrecognized errors
// degrade to the 503 dependency error so no internal detail leaks to clients.
func Classify(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}

	switch {
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenNotYetValid):
		return NewAuthenticationError("token is malformed", err)
	case errors.Is(err, ErrTokenExpired):
		return NewAuthenticationError("token has expired", err)
	case errors.Is(err, ErrTokenRevoked):
		return NewAuthenticationError("token has been revoked", err)
	case errors.Is(err, ErrIdentityRejected):
		return NewAuthenticationError("token verification failed", err)
	case errors.Is(err, ErrSessionMismatch):
		return NewAuthenticationError("token does not match session", err)
	case errors.Is(err, ErrIdentityNotFound):
		return NewAuthenticationError("identity could not be resolved", err)
	case errors.Is(err, ErrSessionLimitExceeded):
		return NewSessionError("concurrent session limit exceeded", err)
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		return NewSessionError("session is not active", err)
	case errors.Is(err, ErrRateLimited):
		return NewRateLimitError("rate limit exceeded", 0, err)
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnknownRole):
		return NewAuthorizationError("permission denied", err)
	case errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrMalformedIdentifier):
		return NewValidationError("request validation failed", err)
	case errors.Is(err, ErrIdentityUnavailable),
		errors.Is(err, ErrCacheUnavailable),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrValidationTimeout),
		errors.Is(err, ErrValidationUnavailable),
		errors.Is(err, ErrSchemaNotFound):
		return NewDependencyUnavailableError("service temporarily unavailable", err)
	default:
		// Errors nobody anticipated degrade to a generic 503. The real
		// cause goes to the logs, never the client.
		return NewDependencyUnavailableError("service temporarily unavailable", err)
	}
}
