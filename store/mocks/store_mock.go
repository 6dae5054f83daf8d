package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/boardsync/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadWhiteboard(ctx context.Context, whiteboardId string) (*models.Whiteboard, error) {
	args := m.Called(ctx, whiteboardId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Whiteboard), args.Error(1)
}

func (m *MockStore) CreateCanvas(ctx context.Context, whiteboardId string, canvas models.CanvasRecord) error {
	args := m.Called(ctx, whiteboardId, canvas)
	return args.Error(0)
}

func (m *MockStore) DeleteCanvases(ctx context.Context, whiteboardId string, canvasIds []string) error {
	args := m.Called(ctx, whiteboardId, canvasIds)
	return args.Error(0)
}

func (m *MockStore) InsertShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error {
	args := m.Called(ctx, whiteboardId, canvasId, shapeId, shape, modified)
	return args.Error(0)
}

func (m *MockStore) ReplaceShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error {
	args := m.Called(ctx, whiteboardId, canvasId, shapeId, shape, modified)
	return args.Error(0)
}

func (m *MockStore) UpdateCanvasAllowedUsers(ctx context.Context, whiteboardId string, canvasId string, allowedUsers []string, modified int64) error {
	args := m.Called(ctx, whiteboardId, canvasId, allowedUsers, modified)
	return args.Error(0)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}
