package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

// Server ties the hub, the handshake authenticator and the HTTP routes
// together. It is created at process start and torn down with Shutdown.
type Server struct {
	cfg           Config
	hub           *Hub
	authenticator *auth.Authenticator
	origins       *originPolicy
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

// New builds a Server. The verifier is the external token verification
// collaborator.
func New(cfg Config, verifier auth.Verifier, logger *zap.Logger, opts ...HubOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.sanitize()

	s := &Server{
		cfg:           cfg,
		hub:           NewHub(cfg, logger, opts...),
		authenticator: auth.NewAuthenticator(verifier),
		origins:       newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:        logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Start launches the hub loop.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage websocket connections")
}

// Hub returns the hub, which also serves as the notification Dispatcher.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	return s.Routes()
}

// Shutdown stops the hub and waits for client pumps.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
