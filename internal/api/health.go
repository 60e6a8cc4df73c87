package api

import (
	"net/http"
	"time"

	"github.com/allenai/infinigram-api/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	Uptime    string    `json:"uptime"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Indexes   map[string]bool `json:"indexes"`
}

// handleHealth responds to health check requests (simple liveness check)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	build := version.Current()
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   build.Version,
		Commit:    build.ShortCommit(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	WriteJSON(w, response, http.StatusOK)
}

// handleReady reports ready once every index pool has loaded its resources
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	indexes := make(map[string]bool)
	for _, p := range s.pools.Stats() {
		indexes[p.Index] = p.Started
	}

	status := "ready"
	statusCode := http.StatusOK
	if !s.pools.Ready() {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Indexes:   indexes,
	}, statusCode)
}
