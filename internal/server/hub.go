package server

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrHubStopped is returned when a request reaches a hub that has shut down.
var ErrHubStopped = errors.New("hub stopped")

// inboundEvent is a decoded client event waiting for the hub loop.
type inboundEvent struct {
	client  *Client
	kind    string
	room    string
	message SendMessagePayload
	typing  TypingPayload
}

// HubOption customises a Hub at construction.
type HubOption func(*Hub)

// WithClock overrides the clock used for message timestamps and rate limits.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithBroadcaster replaces the default channel broadcaster.
func WithBroadcaster(b Broadcaster) HubOption {
	return func(h *Hub) {
		if b != nil {
			h.broadcaster = b
		}
	}
}

// Hub owns every piece of shared realtime state: registered clients, the
// presence registry and room memberships. All of it is read and written
// from the Run goroutine only; other goroutines talk to the hub through
// channels, so events are handled strictly one at a time in arrival order.
type Hub struct {
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
	broadcaster Broadcaster

	clients  map[*Client]struct{}
	presence *presenceRegistry
	rooms    *roomStore

	register   chan *Client
	unregister chan *Client
	events     chan inboundEvent
	calls      chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub ready to be started with Run.
func NewHub(cfg Config, logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:         cfg.sanitize(),
		logger:      logger.Named("hub"),
		now:         time.Now,
		broadcaster: channelBroadcaster{},
		clients:     make(map[*Client]struct{}),
		presence:    newPresenceRegistry(),
		rooms:       newRoomStore(),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		events:      make(chan inboundEvent),
		calls:       make(chan func()),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case ev := <-h.events:
			h.handleEvent(ev)
		case fn := <-h.calls:
			fn()
		}
	}
}

// Register admits an authenticated client. It returns false if the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client and releases its rooms and presence entry.
// Unknown or already removed clients are ignored.
func (h *Hub) Unregister(c *Client) bool {
	select {
	case h.unregister <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// JoinRoom adds c to room.
func (h *Hub) JoinRoom(c *Client, room string) bool {
	return h.submit(inboundEvent{client: c, kind: EventJoinRoom, room: room})
}

// LeaveRoom removes c from room.
func (h *Hub) LeaveRoom(c *Client, room string) bool {
	return h.submit(inboundEvent{client: c, kind: EventLeaveRoom, room: room})
}

// SendMessage fans a chat message out to every member of p.Room, sender included.
func (h *Hub) SendMessage(c *Client, p SendMessagePayload) bool {
	return h.submit(inboundEvent{client: c, kind: EventSendMessage, message: p})
}

// SetTyping relays a typing signal to the room, excluding c.
func (h *Hub) SetTyping(c *Client, p TypingPayload) bool {
	return h.submit(inboundEvent{client: c, kind: EventTyping, typing: p})
}

// ClearTyping relays a stop-typing signal to the room, excluding c.
func (h *Hub) ClearTyping(c *Client, p TypingPayload) bool {
	return h.submit(inboundEvent{client: c, kind: EventStopTyping, typing: p})
}

func (h *Hub) submit(ev inboundEvent) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// call runs fn on the hub loop without waiting for it to finish.
func (h *Hub) call(ctx context.Context, fn func()) error {
	select {
	case h.calls <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// query runs fn on the hub loop and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.call(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

func (h *Hub) handleRegister(c *Client) {
	if c == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}
	if c.identity.UserID == "" {
		h.logger.Error("refusing to register connection without identity", zap.String("conn", c.id))
		c.closed = true
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return
	}
	if _, ok := h.clients[c]; ok {
		return
	}

	userID := c.identity.UserID
	h.clients[c] = struct{}{}
	cameOnline := h.presence.add(userID, c.id)
	h.rooms.join(c, PrivateRoom(userID))

	c.logger.Info("client registered", zap.Int("clients", len(h.clients)))
	h.startPumps(c)

	if cameOnline {
		h.broadcastAll(EventUserStatus, UserStatus{UserID: userID, Status: StatusOnline})
	}
}

func (h *Hub) startPumps(c *Client) {
	if c.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// removeClient drops c from the hub. It is a no-op for unknown clients, so
// repeated disconnect paths are safe.
func (h *Hub) removeClient(c *Client) {
	if c == nil {
		return
	}
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	h.rooms.dropClient(c)
	c.closed = true
	close(c.send)

	userID, wentOffline := h.presence.remove(c.id)
	c.logger.Info("client unregistered", zap.Int("clients", len(h.clients)))

	if wentOffline {
		h.broadcastAll(EventUserStatus, UserStatus{UserID: userID, Status: StatusOffline})
	}
}

func (h *Hub) handleEvent(ev inboundEvent) {
	c := ev.client
	if _, ok := h.clients[c]; !ok {
		h.logger.Debug("dropping event from unregistered client", zap.String("event", ev.kind))
		return
	}

	switch ev.kind {
	case EventJoinRoom:
		h.handleJoin(c, ev.room)
	case EventLeaveRoom:
		h.handleLeave(c, ev.room)
	case EventSendMessage:
		h.handleSendMessage(c, ev.message)
	case EventTyping:
		h.handleTyping(c, ev.typing, EventUserTyping)
	case EventStopTyping:
		h.handleTyping(c, ev.typing, EventUserStopTyping)
	default:
		c.logger.Warn("unhandled event", zap.String("event", ev.kind))
	}
}

var (
	errEmptyRoom       = errors.New("room name is empty")
	errRoomTooLong     = errors.New("room name too long")
	errReservedRoom    = errors.New("room name uses the reserved private prefix")
	errMessageTooLarge = errors.New("chat message too long")
)

func (h *Hub) validateRoom(room string) error {
	if room == "" {
		return errEmptyRoom
	}
	if len(room) > h.cfg.MaxRoomNameLength {
		return errRoomTooLong
	}
	return nil
}

func (h *Hub) handleJoin(c *Client, room string) {
	if err := h.validateRoom(room); err != nil {
		c.logger.Warn("join_room rejected", zap.String("room", room), zap.Error(err))
		return
	}
	if isPrivateRoom(room) {
		c.logger.Warn("join_room rejected", zap.String("room", room), zap.Error(errReservedRoom))
		return
	}

	h.rooms.join(c, room)
	c.logger.Debug("joined room", zap.String("room", room), zap.Int("members", h.rooms.size(room)))
}

func (h *Hub) handleLeave(c *Client, room string) {
	if err := h.validateRoom(room); err != nil {
		c.logger.Warn("leave_room rejected", zap.String("room", room), zap.Error(err))
		return
	}
	if isPrivateRoom(room) {
		c.logger.Warn("leave_room rejected", zap.String("room", room), zap.Error(errReservedRoom))
		return
	}

	h.rooms.leave(c, room)
	c.logger.Debug("left room", zap.String("room", room), zap.Int("members", h.rooms.size(room)))
}

func (h *Hub) handleSendMessage(c *Client, p SendMessagePayload) {
	if err := h.validateRoom(p.Room); err != nil {
		c.logger.Warn("send_message rejected", zap.String("room", p.Room), zap.Error(err))
		return
	}
	if isPrivateRoom(p.Room) {
		c.logger.Warn("send_message rejected", zap.String("room", p.Room), zap.Error(errReservedRoom))
		return
	}
	if len(p.Message) > h.cfg.MaxChatMessageLength {
		c.logger.Warn("send_message rejected", zap.String("room", p.Room),
			zap.Int("length", len(p.Message)), zap.Error(errMessageTooLarge))
		return
	}

	msg := ChatMessage{
		Room:       p.Room,
		Message:    p.Message,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Timestamp:  h.now().UTC(),
	}
	if msg.SenderID == "" {
		msg.SenderID = c.identity.UserID
	}
	if msg.SenderName == "" {
		msg.SenderName = c.identity.DisplayName()
	}

	n := h.emit(p.Room, nil, EventReceiveMessage, msg)
	c.logger.Debug("message routed", zap.String("room", p.Room), zap.Int("recipients", n))
}

func (h *Hub) handleTyping(c *Client, p TypingPayload, event string) {
	if err := h.validateRoom(p.Room); err != nil {
		c.logger.Warn("typing signal rejected", zap.String("room", p.Room), zap.Error(err))
		return
	}
	if isPrivateRoom(p.Room) {
		c.logger.Warn("typing signal rejected", zap.String("room", p.Room), zap.Error(errReservedRoom))
		return
	}
	if p.User == "" {
		p.User = c.identity.DisplayName()
	}

	h.emit(p.Room, c, event, TypingPayload{Room: p.Room, User: p.User})
}

// emit encodes one event and delivers it to the members of room other than
// except. It returns the number of recipients.
func (h *Hub) emit(room string, except *Client, event string, payload any) int {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encoding event failed", zap.String("event", event), zap.Error(err))
		return 0
	}

	recipients := h.rooms.recipients(room, except)
	h.deliver(recipients, frame)
	return len(recipients)
}

// broadcastAll sends an event to every registered client.
func (h *Hub) broadcastAll(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encoding event failed", zap.String("event", event), zap.Error(err))
		return
	}

	recipients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		recipients = append(recipients, c)
	}
	h.deliver(recipients, frame)
}

func (h *Hub) deliver(recipients []*Client, frame []byte) {
	if len(recipients) == 0 {
		return
	}

	for _, c := range h.broadcaster.Broadcast(recipients, frame) {
		c.logger.Warn("send buffer full; dropping client")
		h.removeClient(c)
	}
}

// shutdownClients closes every connection. Presence is discarded without
// offline broadcasts since nobody is left to receive them.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	for c := range h.clients {
		c.closed = true
		close(c.send)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.logger.Warn("closing client connection failed", zap.Error(err))
			}
		}
	}

	count := len(h.clients)
	h.clients = make(map[*Client]struct{})
	h.presence = newPresenceRegistry()
	h.rooms = newRoomStore()

	h.logger.Info("closed client connections", zap.Int("count", count))
}

// Shutdown stops the loop and waits for every client pump to exit, or for
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("hub shutdown timeout reached before loop exit")
		return context.DeadlineExceeded
	}

	pumpsDone := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(pumpsDone)
	}()

	select {
	case <-pumpsDone:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-timer.C:
		h.logger.Warn("hub shutdown timeout reached, some pumps may still be running")
		return context.DeadlineExceeded
	}
}
