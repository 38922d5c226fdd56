// test/mock/gate.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-hq/gateway/gate"
	"github.com/lattice-hq/gateway/model"
)

// MockGate is a mock implementation of gate.Gate
type MockGate struct {
	mock.Mock
}

func (m *MockGate) Authorize(ctx context.Context, req gate.Request) (*model.Grant, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Grant), args.Error(1)
}
