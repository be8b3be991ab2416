package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CreateServer creates an HTTP server for handler on port with production
// timeouts. WriteTimeout is left unset because hijacked WebSocket
// connections manage their own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down. A clean shutdown
// returns nil.
func StartServer(server *http.Server, logger *zap.Logger) error {
	logger.Info("server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen on %s", server.Addr)
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for active
// requests until timeout.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
		return errors.Wrap(err, "http shutdown")
	}

	logger.Info("http server shutdown completed")
	return nil
}

// ShutdownAll stops the HTTP server and then the realtime server, giving each
// half of timeout. The realtime server is shut down even when the HTTP
// shutdown fails; the first error is returned.
func ShutdownAll(server *http.Server, s *Server, timeout time.Duration, logger *zap.Logger) error {
	step := timeout / 2
	httpErr := ShutdownServer(server, step, logger)

	hubErr := s.Shutdown(timeout - step)
	if hubErr != nil {
		logger.Error("realtime shutdown error", zap.Error(hubErr))
		hubErr = errors.Wrap(hubErr, "realtime shutdown")
	}

	if httpErr != nil {
		return httpErr
	}
	return hubErr
}
