// test/mock/limiter.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-hq/gateway/ratelimit"
)

// MockLimiter is a mock implementation of ratelimit.Limiter
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, identifier string) (ratelimit.Decision, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockLimiter) Degraded() bool {
	args := m.Called()
	return args.Bool(0)
}
