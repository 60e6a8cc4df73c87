package attribution

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/jobs"
	"github.com/allenai/infinigram-api/internal/metrics"
)

// Dispatcher runs a function on the worker pool of an index.
type Dispatcher interface {
	Dispatch(ctx context.Context, index, function string, args interface{}, key string) ([]byte, error)
	Indexes() []string
}

// Cache is the subset of storage.ResultCache the service needs.
type Cache interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key []byte, ttl time.Duration) error
}

// ServiceConfig holds the cache lifetimes of the service.
type ServiceConfig struct {
	// TTL applies to freshly computed entries.
	TTL time.Duration
	// RefreshTTL replaces the expiry of an entry on every hit.
	RefreshTTL time.Duration
}

// DefaultServiceConfig returns a 1h TTL refreshed to 12h on hit.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{TTL: time.Hour, RefreshTTL: 12 * time.Hour}
}

// Service answers attribution requests: cache lookup, dispatch to the index
// pool, relevance filtering and cache write.
type Service struct {
	dispatcher Dispatcher
	cache      Cache
	config     ServiceConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics

	inflight singleflight.Group
}

// NewService creates the orchestrator. m may be nil.
func NewService(d Dispatcher, cache Cache, config ServiceConfig, logger *slog.Logger, m *metrics.Metrics) *Service {
	defaults := DefaultServiceConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = defaults.RefreshTTL
	}
	return &Service{
		dispatcher: d,
		cache:      cache,
		config:     config,
		logger:     logger,
		metrics:    m,
	}
}

// Indexes lists the indexes requests can target.
func (s *Service) Indexes() []string {
	return s.dispatcher.Indexes()
}

// Attribute returns the serialized Response for req against index. Identical
// requests return identical bytes until the cache entry expires.
func (s *Service) Attribute(ctx context.Context, index string, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(s.Indexes(), index) {
		return nil, errors.New(errors.IndexNotFound, fmt.Sprintf("index %q is not available", index), nil).
			WithDetails(map[string]interface{}{"index": index, "available": s.Indexes()})
	}

	fp, err := FingerprintOf(index, req)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to fingerprint request", err)
	}

	if body, ok := s.lookup(ctx, fp); ok {
		return body, nil
	}

	// Identical concurrent requests share one dispatch. The shared call
	// outlives any single caller; the dispatch deadline bounds it.
	ch := s.inflight.DoChan(fp.String(), func() (interface{}, error) {
		return s.compute(context.WithoutCancel(ctx), index, req, fp)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) lookup(ctx context.Context, fp Fingerprint) ([]byte, bool) {
	body, found, err := s.cache.Get(ctx, fp[:])
	if err != nil {
		s.metrics.CacheLookup("error")
		s.logger.Warn("Cache read failed, treating as miss", "fingerprint", fp.String(), "error", err.Error())
		return nil, false
	}
	if !found {
		s.metrics.CacheLookup("miss")
		return nil, false
	}

	s.metrics.CacheLookup("hit")
	if err := s.cache.Expire(ctx, fp[:], s.config.RefreshTTL); err != nil {
		s.logger.Warn("Cache refresh failed", "fingerprint", fp.String(), "error", err.Error())
	}
	return body, true
}

func (s *Service) compute(ctx context.Context, index string, req Request, fp Fingerprint) ([]byte, error) {
	key := jobs.NewJobKey()
	raw, err := s.dispatcher.Dispatch(ctx, index, jobs.FunctionName(index), req.Args(index), key)
	if err != nil {
		return nil, s.dispatchError(err, index, key)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.New(errors.InternalError, "worker returned a malformed response", err)
	}
	if resp.Spans == nil {
		resp.Spans = []Span{}
	}
	resp.Spans = FilterRelevance(resp.Spans, req)

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to encode response", err)
	}

	if err := s.cache.Set(ctx, fp[:], body, s.config.TTL); err != nil {
		s.metrics.CacheWrite("error")
		s.logger.Warn("Cache write failed", "fingerprint", fp.String(), "error", err.Error())
	} else {
		s.metrics.CacheWrite("ok")
	}
	return body, nil
}

func (s *Service) dispatchError(err error, index, key string) error {
	switch {
	case stderrors.Is(err, jobs.ErrDeadlineExceeded),
		stderrors.Is(err, jobs.ErrQueueFull),
		stderrors.Is(err, jobs.ErrNotRunning):
		s.logger.Warn("Attribution job did not finish, server overloaded",
			"jobKey", key,
			"index", index,
			"error", err.Error(),
		)
		return errors.Overloaded(err)
	case stderrors.Is(err, jobs.ErrMisrouted):
		return errors.New(errors.ConfigInvalid, "attribution job was routed to the wrong index", err)
	case stderrors.Is(err, jobs.ErrUnknownIndex):
		return errors.New(errors.IndexNotFound, fmt.Sprintf("index %q is not available", index), err)
	}
	if errors.IsCode(err, errors.EngineError) {
		s.logger.Warn("Engine rejected attribution job", "jobKey", key, "index", index, "error", err.Error())
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.New(errors.InternalError, "attribution failed", err)
}
