// gateway/errors/validation_errors.go
package errors

import "errors"

var (
	ErrSchemaNotFound         = errors.New("schema not found")
	ErrSchemaViolation        = errors.New("schema violation")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrValidationTimeout      = errors.New("validation timed out")
	ErrValidationUnavailable  = errors.New("validation unavailable")
)
