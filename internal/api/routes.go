package api

import (
	"net/http"
	"time"

	"github.com/allenai/infinigram-api/internal/version"
)

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Health and readiness checks
	s.handle("GET /health", s.handleHealth)
	s.handle("GET /ready", s.handleReady)

	// Attribution
	s.handle("GET /indexes", s.handleIndexes)
	s.handle("POST /{index}/attribution", s.handleAttribution)

	// Admin
	s.handle("GET /admin/pools", s.requireAdmin(s.handleAdminPools))
	s.handle("POST /admin/cache/purge", s.requireAdmin(s.handleCachePurge))

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}

	s.handle("GET /{$}", s.handleRoot)
}

// handle registers h under pattern and records request metrics labelled
// with the pattern.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(wrapped, r)
		s.metrics.HTTPRequest(pattern, wrapped.statusCode, time.Since(start))
	}))
}

// handleRoot lists the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"name":    "infini-gram attribution API",
		"version": version.Version,
		"endpoints": []string{
			"GET /health - Health check",
			"GET /ready - Readiness check",
			"GET /indexes - Available indexes",
			"POST /{index}/attribution - Attribute a response to index documents",
			"GET /metrics - Prometheus metrics",
			"GET /admin/pools - Worker pool status (admin)",
			"POST /admin/cache/purge - Empty the result cache (admin)",
		},
	}
	WriteJSON(w, response, http.StatusOK)
}
