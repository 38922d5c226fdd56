// test/mock/token.go
package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-hq/gateway/model"
)

// MockTokenValidator is a mock implementation of token.Validator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) Validate(ctx context.Context, rawToken, sessionID string) (*model.Identity, error) {
	args := m.Called(ctx, rawToken, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Identity), args.Error(1)
}

func (m *MockTokenValidator) Revoke(ctx context.Context, rawToken string, ttl time.Duration) error {
	args := m.Called(ctx, rawToken, ttl)
	return args.Error(0)
}
