// test/mock/identity.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-hq/gateway/model"
)

// MockProvider is a mock implementation of identity.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) VerifyToken(ctx context.Context, rawToken string) (*model.Claims, error) {
	args := m.Called(ctx, rawToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Claims), args.Error(1)
}

func (m *MockProvider) FetchIdentity(ctx context.Context, subjectID string) (*model.Identity, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Identity), args.Error(1)
}
