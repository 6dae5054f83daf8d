package ws

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/metrics"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
)

const loginTimeout = 10 * time.Second

type Handler struct {
	Service     *service.Service
	upgrader    websocket.Upgrader
	opts        ClientOptions
	shutdownCtx context.Context
	nextConnId  atomic.Uint64
	readers     sync.WaitGroup
}

func NewHandler(svc *service.Service, allowedOrigins []string, opts ClientOptions, shutdownCtx context.Context) *Handler {
	return &Handler{
		Service:     svc,
		upgrader:    NewWsUpgrader(allowedOrigins),
		opts:        opts,
		shutdownCtx: shutdownCtx,
	}
}

// NewWsUpgrader accepts any origin when allowedOrigins is empty.
func NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ServeWS attaches a websocket to the whiteboard named in the path.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	whiteboardId := chi.URLParam(r, "whiteboardId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("whiteboard_id", whiteboardId).Msg("Failed to upgrade ws connection")
		return
	}

	connId := h.nextConnId.Add(1)
	log := logging.With().Str("whiteboard_id", whiteboardId).Uint64("conn_id", connId).Logger()

	sess, err := h.Service.Registry.GetOrLoad(r.Context(), whiteboardId)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to attach to whiteboard")
		h.reject(conn, connId, service.ClientErrorFor(err, ""))
		return
	}

	client := newClient(h, connId, conn, sess, log, h.opts)
	metrics.ConnectionsActive.Inc()
	log.Debug().Msg("Connection attached")

	h.readers.Add(1)
	go func() {
		defer h.readers.Done()
		client.ReadPump()
	}()
	go client.WritePump(h.shutdownCtx)
}

// Wait blocks until every read pump has returned, so no more mutations can
// be committed, or until ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reject tells a connection that never attached why, then closes it. The
// connection must be upgraded first to carry a custom close message.
func (h *Handler) reject(conn *websocket.Conn, connId uint64, ce *protocol.ClientError) {
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if data, err := protocol.Encode(ce.Individual(session.Origin{ConnId: connId}.ClientId())); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(ce.Kind)),
	)
}

// HandleMessage runs one inbound frame through the authentication state
// machine and, for mutations, the permission gate and the session.
func (h *Handler) HandleMessage(c *Client, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("unknown", metrics.ResultRejected).Inc()
		c.log.Debug().Err(err).Msg("Invalid message")
		c.sendError(service.ClientErrorFor(err, ""))
		return
	}

	msgType := msg.Type()
	switch m := msg.(type) {
	case protocol.Login:
		err = h.login(c, m)
	case protocol.Mutation:
		err = h.mutate(c, m)
	default:
		err = fmt.Errorf("%w: unhandled message type %s", protocol.ErrInvalidMessage, msgType)
	}

	if err != nil {
		ce := service.ClientErrorFor(err, msgType)
		if ce.Kind == protocol.KindOther {
			c.log.Error().Err(err).Str("type", msgType).Msg("Message failed")
		} else {
			c.log.Debug().Err(err).Str("type", msgType).Msg("Message rejected")
		}
		metrics.MessagesTotal.WithLabelValues(msgType, metrics.ResultRejected).Inc()
		c.sendError(ce)
	} else {
		metrics.MessagesTotal.WithLabelValues(msgType, metrics.ResultOK).Inc()
	}

	h.Service.FlushSession(c.sess)
}

func (h *Handler) login(c *Client, m protocol.Login) error {
	if c.authenticated {
		return protocol.NewClientError(protocol.KindAlreadyAuthorized, "already logged in")
	}

	ctx, cancel := context.WithTimeout(h.shutdownCtx, loginTimeout)
	defer cancel()

	user, tier, err := h.Service.Login(ctx, c.sess, m.Token)
	if err != nil {
		c.log.Info().Err(err).Msg("Login rejected")
		return err
	}

	init, sub := c.sess.Join(c.id, tier)
	initBytes, err := protocol.Encode(init)
	if err != nil {
		sub.Close()
		return fmt.Errorf("encode init_client: %w", err)
	}

	c.authenticated = true
	c.user = user
	c.tier = tier
	c.log = c.log.With().Str("user_id", user.Id).Logger()
	c.attach <- attachment{init: initBytes, sub: sub, log: c.log}

	users := c.sess.RegisterConnection(c.id, user.Summary())
	h.publishPresence(c.sess, users)
	c.log.Info().Str("permission", tier.String()).Msg("Login succeeded")
	return nil
}

func (h *Handler) mutate(c *Client, m protocol.Mutation) error {
	if !c.authenticated {
		return protocol.NewClientError(protocol.KindNotAuthenticated, "login required")
	}
	if !c.tier.CanEdit() {
		return protocol.Forbidden(m.Type())
	}

	_, err := c.sess.Apply(c.origin(), m)
	return err
}

func (h *Handler) publishPresence(sess *session.Session, users []models.UserSummary) {
	if err := sess.Broadcast(protocol.ActiveUsers{Users: users}); err != nil {
		logging.Error().Err(err).Str("whiteboard_id", sess.Id()).Msg("Failed to broadcast active users")
	}
	h.Service.PublishPresence(context.Background(), sess.Id(), users)
}

func (h *Handler) disconnect(c *Client) {
	metrics.ConnectionsActive.Dec()

	// A login racing a dead write pump leaves its subscription here.
	select {
	case a := <-c.attach:
		a.sub.Close()
	default:
	}

	if !c.authenticated {
		c.log.Debug().Msg("Connection closed before login")
		return
	}

	users := c.sess.DeregisterConnection(c.id)
	h.publishPresence(c.sess, users)
	c.log.Info().Msg("Connection closed")
}
