package service

import (
	"context"

	"github.com/zlnvch/boardsync/cache"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/session"
	"github.com/zlnvch/boardsync/store"
)

type Service struct {
	Store     store.WhiteboardStore
	Users     store.UserStore
	Cache     cache.BoardsyncCache
	Registry  *session.Registry
	Flusher   *DiffFlusher
	JWTSecret []byte
}

func NewService(
	whiteboardStore store.WhiteboardStore,
	userStore store.UserStore,
	cache cache.BoardsyncCache,
	registry *session.Registry,
	flusher *DiffFlusher,
	jwtSecret []byte,
) *Service {
	return &Service{
		Store:     whiteboardStore,
		Users:     userStore,
		Cache:     cache,
		Registry:  registry,
		Flusher:   flusher,
		JWTSecret: jwtSecret,
	}
}

// FlushSession persists the session's queued diffs. Only one flush per
// session runs at a time, so diffs reach the store in commit order.
func (s *Service) FlushSession(sess *session.Session) {
	sess.FlushPending(func(diffs []models.Diff) {
		s.Flusher.Flush(context.Background(), sess, diffs)
	})
}

// FlushAll waits for in-flight flushes and persists every diff still queued.
// Call once no connection can commit more mutations.
func (s *Service) FlushAll() {
	for _, sess := range s.Registry.Sessions() {
		sess.FinalFlush(func(diffs []models.Diff) {
			s.Flusher.Flush(context.Background(), sess, diffs)
		})
	}
}
