package testutil

import (
	"context"

	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) TriggerPullRequest(ctx context.Context, event types.Event) ([]*store.Run, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Run), args.Error(1)
}

func (m *MockRunService) Dispatch(
	ctx context.Context,
	pipeline string,
	inputs map[string]string,
) (*store.Run, error) {
	args := m.Called(ctx, pipeline, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockRunService) CancelRun(ctx context.Context, runID int64) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockRunService) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockRunService) ListRuns(ctx context.Context, pipeline string, page int64) ([]store.Run, int64, error) {
	args := m.Called(ctx, pipeline, page)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]store.Run), args.Get(1).(int64), nil
}
