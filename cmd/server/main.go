package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/server"
	"github.com/exthublabs/exthub/pkg/config"
	"github.com/exthublabs/exthub/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting exthub server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	srv := server.New(cfg, logger)

	// Feed bootstrap credentials into the configuration interface
	if username, password, ok := cfg.Auth.SessionCredentials(); ok {
		srv.SetSessionAuth(username, password)
	}
	if cfg.Auth.APIToken != "" {
		srv.SetFullToken(cfg.Auth.APIToken)
	}
	if cfg.Auth.ReadToken != "" {
		srv.SetReadToken(cfg.Auth.ReadToken)
	}

	url, err := srv.Start(cfg.Server.Port)
	if err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	logger.Info("Server started", zap.String("url", url))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	srv.Stop()
	logger.Info("Server exited")
}
