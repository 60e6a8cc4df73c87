package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/api"
	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/metrics"
	"github.com/allenai/infinigram-api/internal/tracing"
)

// shutdownTimeout bounds graceful shutdown of the server and the pools.
const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start the attribution HTTP API server.

Every configured index gets its own worker pool, which loads the index once at
startup. The server answers /health immediately and /ready once every pool
has loaded.

Examples:
  infinigram serve
  infinigram serve --addr :9000
  INFINIGRAM_CACHE_BACKEND=memory infinigram serve --config deploy/infinigram.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	tracing.Setup()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	cache, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	dispatcher, err := newDispatcher(cfg, cfg.Indexes, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Stop(shutdownTimeout); err != nil {
			logger.Error("Error stopping index pools", "error", err.Error())
		}
	}()

	service := attribution.NewService(dispatcher, cache, serviceConfig(cfg), logger, m)
	server := api.NewServer(api.ServerConfig{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AdminTokenHash: cfg.Admin.TokenHash,
	}, service, dispatcher, cache, m, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server in a goroutine so /health answers while indexes load
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	if err := dispatcher.Start(ctx); err != nil {
		shutdown(server)
		return fmt.Errorf("failed to start index pools: %w", err)
	}
	logger.Info("All indexes ready", "indexes", dispatcher.Indexes(), "addr", cfg.Server.Addr)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err.Error())
		}
		return err
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		if err := shutdown(server); err != nil {
			logger.Error("Error during shutdown", "error", err.Error())
			return err
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

func shutdown(server *api.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
