package server

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one authenticated WebSocket connection. Its identity is fixed at
// handshake; rooms and closed are only touched by the hub loop.
type Client struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	addr     string
	logger   *zap.Logger
	limiter  *eventLimiter

	rooms  map[string]struct{}
	closed bool
}

// NewClient wraps an upgraded connection for the given identity and assigns
// it a fresh connection id.
func NewClient(conn *websocket.Conn, hub *Hub, identity auth.Identity, addr string) *Client {
	id := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
	}

	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, hub.cfg.SendBufferSize),
		hub:      hub,
		addr:     addr,
		logger: hub.logger.With(
			zap.String("conn", id),
			zap.String("user", identity.UserID),
			zap.String("addr", addr),
		),
		limiter: newEventLimiter(hub.cfg.RateLimit, hub.now),
		rooms:   make(map[string]struct{}),
	}
}

// ID returns the server-assigned connection id.
func (c *Client) ID() string { return c.id }

// Identity returns the authenticated user behind the connection.
func (c *Client) Identity() auth.Identity { return c.identity }

// SendChan exposes queued outbound frames.
func (c *Client) SendChan() <-chan []byte { return c.send }

// enqueue offers a frame without blocking. Called on the hub loop only.
func (c *Client) enqueue(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting initial read deadline failed", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("setting read deadline in pong handler failed", zap.Error(err))
		}
		return nil
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", zap.Int64("limit", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("closing connection in readPump failed", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding event",
				zap.Int("burst", c.hub.cfg.RateLimit.Burst),
				zap.Duration("interval", c.hub.cfg.RateLimit.RefillInterval))
			continue
		}

		c.processMessage(raw)
	}
}

// processMessage decodes one inbound frame and hands it to the hub. Bad
// frames are logged and dropped; the sender gets no error frame.
func (c *Client) processMessage(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("invalid frame", zap.Error(err))
		return false
	}

	switch env.Event {
	case EventJoinRoom, EventLeaveRoom:
		room, err := decodeRoom(env.Data)
		if err != nil {
			c.logger.Warn("invalid room payload", zap.String("event", env.Event), zap.Error(err))
			return false
		}
		if env.Event == EventJoinRoom {
			return c.hub.JoinRoom(c, room)
		}
		return c.hub.LeaveRoom(c, room)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("invalid send_message payload", zap.Error(err))
			return false
		}
		return c.hub.SendMessage(c, p)

	case EventTyping, EventStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("invalid typing payload", zap.String("event", env.Event), zap.Error(err))
			return false
		}
		if env.Event == EventTyping {
			return c.hub.SetTyping(c, p)
		}
		return c.hub.ClearTyping(c, p)

	default:
		c.logger.Warn("unknown event", zap.String("event", env.Event))
		return false
	}
}

// decodeRoom accepts either a bare JSON string or {"room": "..."}.
func decodeRoom(data json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		return room, nil
	}

	var obj struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return obj.Room, nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleFrame(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("closing connection in writePump failed", zap.Error(err))
	}
}

// handleFrame writes one outbound frame; a closed send channel means the hub
// dropped this client.
func (c *Client) handleFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline failed", zap.Error(err))
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("writing close message failed", zap.Error(err))
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn("writing frame failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline for ping failed", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("writing ping failed", zap.Error(err))
		return false
	}
	return true
}
