package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/boardsync/mq"
)

type MockMQ struct {
	mock.Mock
}

func (m *MockMQ) Send(ctx context.Context, groupId string, body string) error {
	args := m.Called(ctx, groupId, body)
	return args.Error(0)
}

func (m *MockMQ) Receive(ctx context.Context, maxMessages int32, visibilityTimeout int32) ([]mq.Message, error) {
	args := m.Called(ctx, maxMessages, visibilityTimeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mq.Message), args.Error(1)
}

func (m *MockMQ) Delete(ctx context.Context, msg mq.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
