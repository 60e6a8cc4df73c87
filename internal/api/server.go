package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/jobs"
	"github.com/allenai/infinigram-api/internal/metrics"
)

// Attributor computes attribution responses.
type Attributor interface {
	Attribute(ctx context.Context, index string, req attribution.Request) ([]byte, error)
	Indexes() []string
}

// PoolInspector reports on the index worker pools.
type PoolInspector interface {
	Ready() bool
	Stats() []jobs.PoolStats
}

// CachePurger empties the result cache.
type CachePurger interface {
	Purge(ctx context.Context) (int64, error)
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AdminTokenHash is the bcrypt hash guarding /admin routes. Empty
	// disables the admin routes.
	AdminTokenHash string
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
}

// DefaultServerConfig returns a config whose write timeout outlasts the
// 60s dispatch deadline.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Server represents the HTTP API server
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	config  ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	attributor Attributor
	pools      PoolInspector
	cache      CachePurger
	started    time.Time
}

// NewServer creates a new HTTP server instance. m may be nil, which also
// disables GET /metrics.
func NewServer(config ServerConfig, attributor Attributor, pools PoolInspector, cache CachePurger, m *metrics.Metrics, logger *slog.Logger) *Server {
	defaults := DefaultServerConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}

	s := &Server{
		router:     http.NewServeMux(),
		config:     config,
		logger:     logger,
		metrics:    m,
		attributor: attributor,
		pools:      pools,
		cache:      cache,
		started:    time.Now(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.applyMiddleware(s.router),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.config.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware()(handler)
	return handler
}
