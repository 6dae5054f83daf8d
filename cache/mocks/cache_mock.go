package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/boardsync/models"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetUser(ctx context.Context, userId string) (models.User, bool, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Bool(1), args.Error(2)
}

func (m *MockCache) SetUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockCache) SetPresence(ctx context.Context, whiteboardId string, users []models.UserSummary) error {
	args := m.Called(ctx, whiteboardId, users)
	return args.Error(0)
}
