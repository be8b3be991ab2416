package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// InternalKeyHeader carries the shared key for the internal API.
const InternalKeyHeader = "X-Internal-Key"

const maxNotificationBody = 64 << 10

// requireInternalKey rejects requests that do not present the notify API key.
func (s *Server) requireInternalKey(next http.Handler) http.Handler {
	expected := []byte(s.cfg.NotifyAPIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(InternalKeyHeader))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing or invalid internal key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decodeNotification(w http.ResponseWriter, r *http.Request) (Notification, bool) {
	var n Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBody)).Decode(&n); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: "notification body must be a JSON object"})
		return n, false
	}
	if n.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: "notification type is required"})
		return n, false
	}
	return n, true
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	s.logger.Warn("notification dispatch failed", zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: err.Error()})
}

// NotifyUserHandler handles POST /api/notify/users/{userID}.
func (s *Server) NotifyUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	n, ok := s.decodeNotification(w, r)
	if !ok {
		return
	}

	if err := s.hub.NotifyUser(r.Context(), userID, n); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// NotifyRoomHandler handles POST /api/notify/rooms/{room}.
func (s *Server) NotifyRoomHandler(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	n, ok := s.decodeNotification(w, r)
	if !ok {
		return
	}

	if err := s.hub.NotifyRoom(r.Context(), room, n); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// PresenceHandler handles GET /api/presence/{userID}.
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.hub.Presence(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// OnlineUsersHandler handles GET /api/presence.
func (s *Server) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.hub.OnlineUsers(r.Context())
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users": users})
}
