// gateway/errors/cache_errors.go
package errors

import "errors"

var (
	ErrCacheMiss        = errors.New("cache miss")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrCircuitOpen      = errors.New("circuit open")
)
