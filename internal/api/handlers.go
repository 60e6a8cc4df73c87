package api

import (
	stderrors "errors"
	"net/http"

	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/jobs"
)

// IndexesResponse lists the indexes requests can target.
type IndexesResponse struct {
	Indexes []string `json:"indexes"`
}

// PoolsResponse is the body of GET /admin/pools.
type PoolsResponse struct {
	Ready bool             `json:"ready"`
	Pools []jobs.PoolStats `json:"pools"`
}

// PurgeResponse is the body of POST /admin/cache/purge.
type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

// handleAttribution handles POST /{index}/attribution
func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	index := r.PathValue("index")

	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	req, err := attribution.DecodeRequest(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			err = errors.Validation("body", "request body is too large")
		}
		WriteProblem(w, r, err)
		return
	}

	resp, err := s.attributor.Attribute(r.Context(), index, req)
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Info("Client went away before attribution finished",
				"index", index,
				"requestID", GetRequestID(r.Context()),
			)
		}
		WriteProblem(w, r, err)
		return
	}

	writeRawJSON(w, resp, http.StatusOK)
}

// handleIndexes handles GET /indexes
func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	indexes := s.attributor.Indexes()
	if indexes == nil {
		indexes = []string{}
	}
	WriteJSON(w, IndexesResponse{Indexes: indexes}, http.StatusOK)
}

// handleAdminPools handles GET /admin/pools
func (s *Server) handleAdminPools(w http.ResponseWriter, r *http.Request) {
	stats := s.pools.Stats()
	if stats == nil {
		stats = []jobs.PoolStats{}
	}
	WriteJSON(w, PoolsResponse{Ready: s.pools.Ready(), Pools: stats}, http.StatusOK)
}

// handleCachePurge handles POST /admin/cache/purge
func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Purge(r.Context())
	if err != nil {
		s.logger.Error("Cache purge failed", "error", err.Error())
		WriteProblem(w, r, errors.New(errors.InternalError, "cache purge failed", err))
		return
	}
	s.logger.Info("Cache purged", "entries", n, "requestID", GetRequestID(r.Context()))
	WriteJSON(w, PurgeResponse{Purged: n}, http.StatusOK)
}
