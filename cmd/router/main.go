package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/config"
	"github.com/wudi/agentrouter/internal/logging"
	"github.com/wudi/agentrouter/internal/server"
	"github.com/wudi/agentrouter/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting agent session router",
		zap.Strings("backends", cfg.BackendIPs),
		zap.Int("max_requests_per_backend", cfg.MaxRequestsPerBackend),
		zap.Duration("mapping_ttl", cfg.MappingTTL),
		zap.String("port", cfg.Port),
	)

	st, err := store.New(cfg.RedisURL)
	if err != nil {
		logging.Error("Failed to connect to coordination store", zap.Error(err))
		os.Exit(1)
	}

	if err := server.New(cfg, st).Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
