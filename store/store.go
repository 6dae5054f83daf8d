package store

import (
	"context"
	"errors"

	"github.com/zlnvch/boardsync/models"
)

// WhiteboardStore persists whiteboard documents. Writes take the ids the
// in-memory model already assigned and are safe to retry.
type WhiteboardStore interface {
	LoadWhiteboard(ctx context.Context, whiteboardId string) (*models.Whiteboard, error)
	CreateCanvas(ctx context.Context, whiteboardId string, canvas models.CanvasRecord) error
	DeleteCanvases(ctx context.Context, whiteboardId string, canvasIds []string) error
	InsertShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error
	ReplaceShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error
	UpdateCanvasAllowedUsers(ctx context.Context, whiteboardId string, canvasId string, allowedUsers []string, modified int64) error
}

type UserStore interface {
	GetUser(ctx context.Context, userId string) (models.User, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
