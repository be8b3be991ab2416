package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes builds the HTTP router. The internal API is only mounted when a
// notify API key is configured.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/test", s.TestPageHandler).Methods(http.MethodGet)

	if s.cfg.NotifyAPIKey != "" {
		api := r.PathPrefix("/api").Subrouter()
		api.Use(s.requireInternalKey)
		api.HandleFunc("/notify/users/{userID}", s.NotifyUserHandler).Methods(http.MethodPost)
		// Room names may contain slashes.
		api.HandleFunc("/notify/rooms/{room:.+}", s.NotifyRoomHandler).Methods(http.MethodPost)
		api.HandleFunc("/presence", s.OnlineUsersHandler).Methods(http.MethodGet)
		api.HandleFunc("/presence/{userID}", s.PresenceHandler).Methods(http.MethodGet)
	}

	return r
}
