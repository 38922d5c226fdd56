// test/mock/session.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSessionManager is a mock implementation of session.Manager
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) ManageSession(ctx context.Context, subjectID, sessionID string) (bool, error) {
	args := m.Called(ctx, subjectID, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionManager) EndSession(ctx context.Context, subjectID, sessionID string) error {
	args := m.Called(ctx, subjectID, sessionID)
	return args.Error(0)
}

func (m *MockSessionManager) ActiveSessions(ctx context.Context, subjectID string) (int, error) {
	args := m.Called(ctx, subjectID)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionManager) SweepExpired(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
