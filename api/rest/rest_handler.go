package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
)

const requestTimeout = 10 * time.Second

// Handler serves read-only whiteboard snapshots to callers that hold a
// bearer token with any tier on the whiteboard.
type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type whiteboardResponse struct {
	Whiteboard  models.WhiteboardView `json:"whiteboard"`
	Permission  models.Tier           `json:"permission"`
	ActiveUsers []models.UserSummary  `json:"activeUsers"`
}

type errorResponse struct {
	Kind    protocol.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

func (h *Handler) HandleGetWhiteboard(w http.ResponseWriter, r *http.Request) {
	sess, tier, ok := h.authorize(w, r)
	if !ok {
		return
	}

	h.sendResponse(w, whiteboardResponse{
		Whiteboard:  sess.View(),
		Permission:  tier,
		ActiveUsers: sess.ActiveUsers(),
	})
}

func (h *Handler) HandleGetCanvas(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	canvas, err := sess.CanvasView(chi.URLParam(r, "canvasId"))
	if err != nil {
		h.sendError(w, service.ClientErrorFor(err, ""))
		return
	}
	h.sendResponse(w, canvas)
}

// authorize loads the whiteboard and checks the caller's token against it.
// On failure it has already written the response.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*session.Session, models.Tier, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	whiteboardId := chi.URLParam(r, "whiteboardId")
	token := h.getTokenFromAuthHeader(r)
	if token == "" {
		h.sendError(w, protocol.NewClientError(protocol.KindInvalidAuth, "bearer token required"))
		return nil, models.TierNone, false
	}

	sess, err := h.Service.Registry.GetOrLoad(ctx, whiteboardId)
	if err != nil {
		logging.Debug().Err(err).Str("whiteboard_id", whiteboardId).Msg("Snapshot load failed")
		h.sendError(w, service.ClientErrorFor(err, ""))
		return nil, models.TierNone, false
	}

	_, tier, err := h.Service.Login(ctx, sess, token)
	if err != nil {
		h.sendError(w, service.ClientErrorFor(err, ""))
		return nil, models.TierNone, false
	}
	return sess, tier, true
}

func statusFor(kind protocol.ErrorKind) int {
	switch kind {
	case protocol.KindInvalidAuth, protocol.KindAuthTokenExpired, protocol.KindUserNotFound:
		return http.StatusUnauthorized
	case protocol.KindUnauthorized, protocol.KindActionForbidden:
		return http.StatusForbidden
	case protocol.KindWhiteboardNotFound, protocol.KindCanvasNotFound:
		return http.StatusNotFound
	case protocol.KindInvalidMessage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendError(w http.ResponseWriter, ce *protocol.ClientError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(ce.Kind))
	json.NewEncoder(w).Encode(errorResponse{Kind: ce.Kind, Message: ce.Message})
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
