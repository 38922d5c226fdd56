// test/mock/audit.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-hq/gateway/audit"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/util"
)

// MockAuditRepository is a mock implementation of audit.Repository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) IndexDecision(ctx context.Context, rec audit.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockAuditRepository) QueryDecisions(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]audit.Record), args.Error(1)
}

// MockAuditService is a mock implementation of audit.Service
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) RecordDecision(ctx context.Context, decision model.AuthDecision) error {
	args := m.Called(ctx, decision)
	return args.Error(0)
}

func (m *MockAuditService) QueryDecisions(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]audit.Record), args.Error(1)
}

func (m *MockAuditService) Attach(bus *util.EventBus) {
	m.Called(bus)
}
