package cache

import (
	"context"

	"github.com/zlnvch/boardsync/models"
)

// UserCache is a read-through cache in front of the user store.
type UserCache interface {
	// GetUser reports found=false on a cache miss.
	GetUser(ctx context.Context, userId string) (user models.User, found bool, err error)
	SetUser(ctx context.Context, user models.User) error
}

// PresenceCache mirrors each whiteboard's active-user list for readers
// outside this process.
type PresenceCache interface {
	SetPresence(ctx context.Context, whiteboardId string, users []models.UserSummary) error
}

type BoardsyncCache interface {
	UserCache
	PresenceCache
}
