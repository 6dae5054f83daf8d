package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/session"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound messages addressed to this connection only.
	directBuffer = 64
)

type ClientOptions struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64
	Burst             int
}

// attachment is handed from the read pump to the write pump on login. The
// init message is written before anything from the subscription.
type attachment struct {
	init []byte
	sub  *session.Subscription
	log  zerolog.Logger
}

// Client is one websocket connection attached to a session. The read pump
// owns the authentication state; the write pump owns the subscription.
type Client struct {
	id      uint64
	conn    *websocket.Conn
	handler *Handler
	sess    *session.Session
	log     zerolog.Logger
	limiter *rate.Limiter
	opts    ClientOptions

	direct     chan []byte
	attach     chan attachment
	readDone   chan struct{}
	writerDone chan struct{}

	// Write pump only.
	writeLog zerolog.Logger

	// Read pump only.
	authenticated bool
	user          models.User
	tier          models.Tier
}

func newClient(h *Handler, id uint64, conn *websocket.Conn, sess *session.Session, log zerolog.Logger, opts ClientOptions) *Client {
	return &Client{
		id:         id,
		conn:       conn,
		handler:    h,
		sess:       sess,
		log:        log,
		writeLog:   log,
		limiter:    rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst),
		opts:       opts,
		direct:     make(chan []byte, directBuffer),
		attach:     make(chan attachment, 1),
		readDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Client) origin() session.Origin {
	return session.Origin{ConnId: c.id, UserId: c.user.Id}
}

// send queues msg for this connection only.
func (c *Client) send(msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.Type()).Msg("Failed to encode message")
		return
	}
	select {
	case c.direct <- data:
	case <-c.writerDone:
	}
}

func (c *Client) sendError(ce *protocol.ClientError) {
	c.send(ce.Individual(c.origin().ClientId()))
}

func (c *Client) ReadPump() {
	// The write pump closes the connection once it sees readDone.
	defer func() {
		close(c.readDone)
		c.handler.disconnect(c)
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("WS close error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.log.Warn().Msg("Closing connection: message rate limit exceeded")
			break
		}

		if messageType != websocket.TextMessage {
			c.sendError(protocol.NewClientError(protocol.KindInvalidMessage, "expected a text frame"))
			continue
		}

		c.handler.HandleMessage(c, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	var sub *session.Subscription
	defer func() {
		ticker.Stop()
		close(c.writerDone)
		if sub != nil {
			sub.Close()
		}
		c.conn.Close()
	}()

	// Nil until login; a nil channel blocks forever in select.
	var broadcasts <-chan []byte

	for {
		select {
		case a := <-c.attach:
			sub = a.sub
			broadcasts = sub.C()
			c.writeLog = a.log
			if err := c.write(websocket.TextMessage, a.init); err != nil {
				return
			}

		case message, ok := <-broadcasts:
			if !ok {
				if errors.Is(sub.Err(), session.ErrLagged) {
					c.writeLog.Warn().Msg("Closing lagged connection")
					c.closeWith(websocket.CloseTryAgainLater, "Fell behind broadcast stream")
				} else {
					c.closeWith(websocket.CloseGoingAway, "Session closed")
				}
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.writeLog.Debug().Err(err).Msg("WS send error")
				return
			}

		case message := <-c.direct:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.writeLog.Debug().Err(err).Msg("WS send error")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.readDone:
			c.drainDirect()
			return

		case <-shutdownCtx.Done():
			c.closeWith(websocket.CloseGoingAway, "Websocket service shutting down")
			return
		}
	}
}

// drainDirect flushes replies queued before the read side stopped.
func (c *Client) drainDirect() {
	for {
		select {
		case message := <-c.direct:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) closeWith(code int, text string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
