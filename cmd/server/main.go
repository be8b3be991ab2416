package main

import (
	"context"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
	"github.com/Tyrowin/gochat-realtime/internal/bridge"
	"github.com/Tyrowin/gochat-realtime/internal/logging"
	"github.com/Tyrowin/gochat-realtime/internal/server"
)

func main() {
	cfg := server.NewConfigFromEnv()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting GoChat realtime server")

	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
	})

	srv := server.New(*cfg, verifier, logger)
	srv.Start()

	operations := map[string]gfshutdown.Operation{}

	if cfg.NATSURL != "" {
		nb := bridge.New(bridge.Config{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		}, srv.Hub(), logger)
		if err := nb.Start(); err != nil {
			logger.Fatal("starting nats bridge failed", zap.Error(err))
		}
		operations["nats-bridge"] = func(context.Context) error {
			return nb.Close()
		}
	}

	httpServer := server.CreateServer(cfg.Port, srv.Handler())
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	operations["realtime"] = func(context.Context) error {
		return server.ShutdownAll(httpServer, srv, cfg.ShutdownTimeout, logger)
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, operations)
	exitCode := <-wait
	logger.Info("server exited", zap.Int("code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}
