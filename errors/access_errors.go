package errors

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownRole      = errors.New("unknown role")

	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrMalformedIdentifier = errors.New("malformed rate limit identifier")
)
