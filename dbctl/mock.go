package dbctl

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockControl is the testify mock used across pipeline tests.
type MockControl struct {
	mock.Mock
}

var _ Control = (*MockControl)(nil)

func (m *MockControl) Snapshot(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}

func (m *MockControl) Refresh(ctx context.Context, keyspace, columnFamily string) error {
	args := m.Called(ctx, keyspace, columnFamily)
	return args.Error(0)
}

func (m *MockControl) ClearSnapshot(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}
