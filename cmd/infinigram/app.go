package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allenai/infinigram-api/internal/attribution"
	"github.com/allenai/infinigram-api/internal/config"
	"github.com/allenai/infinigram-api/internal/engine"
	"github.com/allenai/infinigram-api/internal/engine/ngram"
	"github.com/allenai/infinigram-api/internal/jobs"
	"github.com/allenai/infinigram-api/internal/metrics"
	"github.com/allenai/infinigram-api/internal/storage"
	"github.com/allenai/infinigram-api/internal/tokenizer"
)

// loadProcessor reads the corpus of idx and binds it to its tokenizer.
func loadProcessor(idx config.IndexConfig, logger *slog.Logger) (*engine.Processor, error) {
	start := time.Now()
	tok, err := tokenizer.New(idx.Encoding)
	if err != nil {
		return nil, err
	}
	eng, err := ngram.Load(idx.CorpusPath, tok)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", idx.ID, err)
	}
	logger.Info("Index loaded",
		"index", idx.ID,
		"documents", eng.NumDocuments(),
		"tokens", eng.NumTokens(),
		"duration", time.Since(start).String(),
	)
	return engine.NewProcessor(idx.ID, eng, tok), nil
}

// indexLoader returns the loader of one index pool. It runs once, when the
// pool starts.
func indexLoader(idx config.IndexConfig, logger *slog.Logger) jobs.Loader {
	return func(ctx context.Context, index string) (jobs.Handler, error) {
		proc, err := loadProcessor(idx, logger)
		if err != nil {
			return nil, err
		}
		return attribution.NewComputer(proc, logger).HandleJob, nil
	}
}

// newDispatcher registers one pool per index. Nothing is loaded until Start.
func newDispatcher(cfg *config.Config, indexes []config.IndexConfig, logger *slog.Logger, m *metrics.Metrics) (*jobs.Dispatcher, error) {
	d := jobs.NewDispatcher(cfg.Dispatch.Deadline, logger, m)
	poolConfig := jobs.PoolConfig{
		QueueName:   cfg.Dispatch.QueueName,
		QueueSize:   cfg.Dispatch.QueueSize,
		Concurrency: cfg.Dispatch.Concurrency,
	}
	for _, idx := range indexes {
		pool := jobs.NewPool(idx.ID, indexLoader(idx, logger), poolConfig, logger, m)
		if err := d.Register(pool); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// openCache opens the configured result cache backend.
func openCache(cfg *config.Config, logger *slog.Logger) (storage.ResultCache, error) {
	cache, err := storage.NewResultCache(cfg.Cache.Backend, cfg.Cache.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
	}
	return cache, nil
}

func serviceConfig(cfg *config.Config) attribution.ServiceConfig {
	return attribution.ServiceConfig{
		TTL:        cfg.Cache.TTL,
		RefreshTTL: cfg.Cache.RefreshTTL,
	}
}
