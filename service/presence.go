package service

import (
	"context"
	"time"

	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
)

const presenceTimeout = 2 * time.Second

// PublishPresence mirrors the active-user list to the cache. Failures are
// logged only; the websocket broadcast is authoritative.
func (s *Service) PublishPresence(ctx context.Context, whiteboardId string, users []models.UserSummary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	defer cancel()

	if err := s.Cache.SetPresence(ctx, whiteboardId, users); err != nil {
		logging.Warn().Err(err).Str("whiteboard_id", whiteboardId).Msg("Presence mirror failed")
	}
}
