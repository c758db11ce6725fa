package database

import (
	"context"

	"github.com/npezzotti/room-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) AppendMessage(ctx context.Context, roomId string, msg types.Message) (int64, error) {
	args := m.Called(ctx, roomId, msg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMessageStore) FetchRecent(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	args := m.Called(ctx, roomId, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
