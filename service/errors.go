package service

import (
	"errors"

	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/session"
)

// ClientErrorFor maps a domain error to what the client is told. action is
// the message type being processed, used for action_forbidden.
func ClientErrorFor(err error, action string) *protocol.ClientError {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return protocol.NewClientError(protocol.KindAuthTokenExpired, "auth token expired")
	case errors.Is(err, ErrTokenMalformed):
		return protocol.NewClientError(protocol.KindInvalidAuth, "auth token invalid")
	case errors.Is(err, ErrUserNotFound):
		return protocol.NewClientError(protocol.KindUserNotFound, "user not found")
	case errors.Is(err, ErrUnauthorized):
		return protocol.NewClientError(protocol.KindUnauthorized, "no access to this whiteboard")
	case errors.Is(err, session.ErrWhiteboardNotFound):
		return protocol.NewClientError(protocol.KindWhiteboardNotFound, "whiteboard not found")
	case errors.Is(err, session.ErrCanvasNotFound):
		return protocol.NewClientError(protocol.KindCanvasNotFound, "canvas not found")
	case errors.Is(err, session.ErrCanvasForbidden):
		return protocol.Forbidden(action)
	case errors.Is(err, session.ErrInvalidAllowedUser):
		return protocol.NewClientError(protocol.KindOther, "allowed users must have edit permission")
	default:
		return protocol.AsClientError(err)
	}
}
