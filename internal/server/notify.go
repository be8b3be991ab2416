package server

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrEmptyTarget is returned when a notification has no user or room.
var ErrEmptyTarget = errors.New("notification target is empty")

// Dispatcher pushes notifications into the realtime layer from outside a
// client connection, e.g. from a request handler finishing a task
// assignment. Delivery is fire-and-forget: a target with no open
// connections silently receives nothing.
type Dispatcher interface {
	NotifyUser(ctx context.Context, userID string, n Notification) error
	NotifyRoom(ctx context.Context, room string, n Notification) error
}

var _ Dispatcher = (*Hub)(nil)

// NotifyUser delivers n to every open connection of userID.
func (h *Hub) NotifyUser(ctx context.Context, userID string, n Notification) error {
	if userID == "" {
		return ErrEmptyTarget
	}
	return h.call(ctx, func() {
		count := h.emit(PrivateRoom(userID), nil, EventNotification, n)
		h.logger.Debug("user notification dispatched",
			zap.String("user", userID), zap.String("type", n.Type), zap.Int("recipients", count))
	})
}

// NotifyRoom delivers n to every member of room.
func (h *Hub) NotifyRoom(ctx context.Context, room string, n Notification) error {
	if room == "" {
		return ErrEmptyTarget
	}
	return h.call(ctx, func() {
		count := h.emit(room, nil, EventNotification, n)
		h.logger.Debug("room notification dispatched",
			zap.String("room", room), zap.String("type", n.Type), zap.Int("recipients", count))
	})
}

// PresenceInfo describes one user's presence.
type PresenceInfo struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

// Presence reports whether userID has open connections.
func (h *Hub) Presence(ctx context.Context, userID string) (PresenceInfo, error) {
	info := PresenceInfo{UserID: userID}
	err := h.query(ctx, func() {
		info.Online = h.presence.isOnline(userID)
		info.Connections = len(h.presence.connections(userID))
	})
	return info, err
}

// OnlineUsers lists every user with at least one open connection, sorted.
func (h *Hub) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := h.query(ctx, func() {
		users = h.presence.users()
	})
	return users, err
}
