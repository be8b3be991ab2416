package server

import (
	"encoding/json"
	"strings"
	"time"
)

// Event names exchanged over the WebSocket.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"

	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventNotification   = "notification"
	EventUserStatus     = "user_status"
)

// Presence statuses carried by user_status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is the body of send_message.
type SendMessagePayload struct {
	Room       string `json:"room"`
	Message    string `json:"message"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
}

// ChatMessage is the receive_message payload. It only exists in flight.
type ChatMessage struct {
	Room       string    `json:"room"`
	Message    string    `json:"message"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingPayload is used by typing/stop_typing and their user_* relays.
type TypingPayload struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// UserStatus is the user_status payload.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// Notification is pushed by external collaborators to a user or a room.
// Data keys are flattened next to type and message on the wire.
type Notification struct {
	Type    string
	Message string
	Data    map[string]any
}

// MarshalJSON encodes {type, message, ...data}; type and message win over
// colliding data keys.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Data)+2)
	for k, v := range n.Data {
		out[k] = v
	}
	out["type"] = n.Type
	out["message"] = n.Message
	return json.Marshal(out)
}

// UnmarshalJSON accepts both the flat wire shape and {type, message, data}.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*n = Notification{}
	if v, ok := raw["type"].(string); ok {
		n.Type = v
	}
	if v, ok := raw["message"].(string); ok {
		n.Message = v
	}
	delete(raw, "type")
	delete(raw, "message")

	if nested, ok := raw["data"].(map[string]any); ok && len(raw) == 1 {
		raw = nested
	}
	if len(raw) > 0 {
		n.Data = raw
	}
	return nil
}

// encodeEvent builds a ready-to-send frame.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
