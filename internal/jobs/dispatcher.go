package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/allenai/infinigram-api/internal/metrics"
	"github.com/allenai/infinigram-api/internal/tracing"
)

var (
	// ErrDeadlineExceeded is returned when a job does not finish before the
	// dispatch deadline. The job has been aborted.
	ErrDeadlineExceeded = errors.New("job deadline exceeded")
	// ErrMisrouted is returned when a function is dispatched to a pool it is
	// not bound to.
	ErrMisrouted = errors.New("function is not bound to this index")
	// ErrUnknownIndex is returned when no pool serves the index.
	ErrUnknownIndex = errors.New("no pool for index")
)

// DefaultDeadline is how long a caller waits for an attribution job.
const DefaultDeadline = 60 * time.Second

// Dispatcher is the registry of index pools. It is created once at startup
// and handed to everything that submits work.
type Dispatcher struct {
	deadline time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewDispatcher creates an empty registry with the given dispatch deadline.
func NewDispatcher(deadline time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Dispatcher{
		deadline: deadline,
		logger:   logger,
		metrics:  m,
		pools:    make(map[string]*Pool),
	}
}

// Register adds a pool. Each index can be registered once.
func (d *Dispatcher) Register(p *Pool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pools[p.Index()]; exists {
		return fmt.Errorf("index %s is already registered", p.Index())
	}
	d.pools[p.Index()] = p
	return nil
}

// Start starts every registered pool concurrently and fails if any fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.RLock()
	pools := make([]*Pool, 0, len(d.pools))
	for _, p := range d.pools {
		pools = append(pools, p)
	}
	d.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pools {
		g.Go(func() error {
			return p.Start(gctx)
		})
	}
	return g.Wait()
}

// Stop stops every pool, returning the first error.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var firstErr error
	for _, p := range d.pools {
		if err := p.Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ready reports whether every registered pool has started.
func (d *Dispatcher) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.pools) == 0 {
		return false
	}
	for _, p := range d.pools {
		if !p.Started() {
			return false
		}
	}
	return true
}

// Indexes returns the registered index ids in sorted order.
func (d *Dispatcher) Indexes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.pools))
	for id := range d.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pool returns the pool for index.
func (d *Dispatcher) Pool(index string) (*Pool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pools[index]
	return p, ok
}

// Stats returns a snapshot of every pool, sorted by index.
func (d *Dispatcher) Stats() []PoolStats {
	stats := make([]PoolStats, 0)
	for _, id := range d.Indexes() {
		if p, ok := d.Pool(id); ok {
			stats = append(stats, p.Stats())
		}
	}
	return stats
}

// Dispatch submits function with args to the pool of index under key and
// waits for the result. If the deadline passes or ctx is cancelled first, the
// job is aborted exactly once before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, index, function string, args interface{}, key string) ([]byte, error) {
	pool, ok := d.Pool(index)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	if function != pool.Function() {
		return nil, fmt.Errorf("%w: %s cannot run on index %s", ErrMisrouted, function, index)
	}

	ctx, span := tracing.Tracer().Start(ctx, "attribution_queue/publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "infinigram"),
			attribute.String("messaging.message.id", key),
			attribute.String("messaging.destination.name", pool.QueueName()),
			attribute.String("index", index),
		))
	defer span.End()

	job, err := NewJob(key, function, index, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	job.OtelContext = tracing.Inject(ctx)

	start := time.Now()
	outcome, err := pool.Submit(job)
	if err != nil {
		d.metrics.Dispatched(index, "rejected", time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to submit job %s: %w", key, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	select {
	case out := <-outcome:
		if out.Err != nil {
			d.metrics.Dispatched(index, "failed", time.Since(start))
			span.SetStatus(codes.Error, out.Err.Error())
			return nil, out.Err
		}
		d.metrics.Dispatched(index, "completed", time.Since(start))
		return out.Body, nil

	case <-waitCtx.Done():
		pool.Abort(key)
		d.metrics.Dispatched(index, "timeout", time.Since(start))
		span.SetStatus(codes.Error, "aborted")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("job %s on index %s: %w", key, index, ctx.Err())
		}
		return nil, fmt.Errorf("%w: job %s on index %s after %v", ErrDeadlineExceeded, key, index, d.deadline)
	}
}
