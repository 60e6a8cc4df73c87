package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/allenai/infinigram-api/internal/metrics"
	"github.com/allenai/infinigram-api/internal/tracing"
)

var (
	// ErrQueueFull is returned by Submit when the pool backlog is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("pool is not running")
)

// Handler executes one job and returns its serialized result.
type Handler func(ctx context.Context, job *Job) ([]byte, error)

// Loader builds the handler of a pool. It runs once, at Start, and owns
// loading the index resources the handler needs.
type Loader func(ctx context.Context, index string) (Handler, error)

// Outcome is what a waiting caller receives when a job finishes.
type Outcome struct {
	Body []byte
	Err  error
}

// PoolConfig contains configuration for an index pool.
type PoolConfig struct {
	QueueName   string
	QueueSize   int
	Concurrency int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueueName:   "infini-gram-attribution",
		QueueSize:   100,
		Concurrency: 1,
	}
}

// PoolStats is a snapshot of a pool for the admin surface.
type PoolStats struct {
	Index         string `json:"index"`
	Queue         string `json:"queue"`
	Function      string `json:"function"`
	Started       bool   `json:"started"`
	Workers       int    `json:"workers"`
	QueueLength   int    `json:"queueLength"`
	QueueCapacity int    `json:"queueCapacity"`
	Running       int    `json:"running"`
	Processed     int64  `json:"processed"`
	Failed        int64  `json:"failed"`
	Aborted       int64  `json:"aborted"`
}

type entry struct {
	job    *Job
	cancel context.CancelFunc
	result chan Outcome
}

// Pool owns the queue and workers of exactly one index.
type Pool struct {
	index   string
	config  PoolConfig
	loader  Loader
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan *Job
	jobs  map[string]*entry

	baseCtx    context.Context
	cancelBase context.CancelFunc
	done       chan struct{}
	loading    bool
	started    bool
	stopped    bool

	mu sync.Mutex
	wg sync.WaitGroup

	processed int64
	failed    int64
	aborted   int64
}

// NewPool creates a pool for index. Nothing is loaded until Start.
func NewPool(index string, loader Loader, config PoolConfig, logger *slog.Logger, m *metrics.Metrics) *Pool {
	defaults := DefaultPoolConfig()
	if config.QueueName == "" {
		config.QueueName = defaults.QueueName
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	return &Pool{
		index:   index,
		config:  config,
		loader:  loader,
		logger:  logger.With("index", index),
		metrics: m,
		queue:   make(chan *Job, config.QueueSize),
		jobs:    make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Index returns the index served by the pool.
func (p *Pool) Index() string {
	return p.index
}

// Function returns the only function name this pool accepts.
func (p *Pool) Function() string {
	return FunctionName(p.index)
}

// QueueName returns the per-index queue name.
func (p *Pool) QueueName() string {
	return p.config.QueueName + "-" + p.index
}

// Start loads the index resources and starts the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.loading || p.started || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("pool %s already started", p.index)
	}
	p.loading = true
	p.mu.Unlock()

	p.logger.Info("Worker starting up", "queue", p.QueueName(), "workers", p.config.Concurrency)
	start := time.Now()
	handler, err := p.loader(ctx, p.index)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return fmt.Errorf("failed to load index %s: %w", p.index, err)
	}
	// Stop may have run while the loader was busy.
	if p.stopped {
		p.logger.Info("Pool stopped while loading, discarding index", "duration", time.Since(start).String())
		return fmt.Errorf("pool %s: %w", p.index, ErrNotRunning)
	}
	p.handler = handler
	p.baseCtx, p.cancelBase = context.WithCancel(context.Background())
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.started = true
	p.logger.Info("Worker finished starting up", "duration", time.Since(start).String())
	return nil
}

// Stop cancels running jobs and waits for the workers to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.done)
	p.cancelBase()
	for key, e := range p.jobs {
		if e.job.Status == JobRunning {
			e.job.MarkAbandoned()
		} else {
			e.job.MarkCancelled()
		}
		e.result <- Outcome{Err: fmt.Errorf("job %s: %w", key, ErrNotRunning)}
		delete(p.jobs, key)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("Pool stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pool %s shutdown timed out after %v", p.index, timeout)
	}
}

// Started reports whether Start completed and Stop has not been called.
func (p *Pool) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}

// Submit enqueues job and returns the channel its outcome is delivered on.
// The channel never receives for a job that gets aborted.
func (p *Pool) Submit(job *Job) (<-chan Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil, ErrNotRunning
	}
	if _, exists := p.jobs[job.Key]; exists {
		return nil, fmt.Errorf("job %s is already queued", job.Key)
	}

	e := &entry{job: job, result: make(chan Outcome, 1)}
	select {
	case p.queue <- job:
	default:
		return nil, ErrQueueFull
	}
	p.jobs[job.Key] = e
	p.metrics.QueueDepth(p.index, len(p.queue))
	p.logger.Debug("Job queued", "jobKey", job.Key)
	return e.result, nil
}

// Abort drops a queued job or cancels a running one. It reports whether the
// job was known; aborting a finished or unknown job is not an error.
func (p *Pool) Abort(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.jobs[key]
	if !ok {
		return false
	}
	switch e.job.Status {
	case JobQueued:
		e.job.MarkCancelled()
	case JobRunning:
		e.job.MarkAbandoned()
		if e.cancel != nil {
			e.cancel()
		}
	}
	delete(p.jobs, key)
	p.aborted++
	p.metrics.Aborted(p.index)
	p.logger.Info("Job aborted", "jobKey", key, "status", e.job.Status)
	return true
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	running := 0
	for _, e := range p.jobs {
		if e.job.Status == JobRunning {
			running++
		}
	}
	return PoolStats{
		Index:         p.index,
		Queue:         p.QueueName(),
		Function:      p.Function(),
		Started:       p.started && !p.stopped,
		Workers:       p.config.Concurrency,
		QueueLength:   len(p.queue),
		QueueCapacity: p.config.QueueSize,
		Running:       running,
		Processed:     p.processed,
		Failed:        p.failed,
		Aborted:       p.aborted,
	}
}

// worker processes jobs from the queue. Engine calls are CPU bound, so each
// worker keeps its own OS thread.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.logger.Debug("Job worker started", "workerId", id)
	for {
		select {
		case job := <-p.queue:
			p.process(job)
		case <-p.done:
			p.logger.Debug("Job worker stopping", "workerId", id)
			return
		}
	}
}

func (p *Pool) process(job *Job) {
	p.mu.Lock()
	p.metrics.QueueDepth(p.index, len(p.queue))
	e, ok := p.jobs[job.Key]
	if !ok || job.Status != JobQueued {
		p.mu.Unlock()
		p.logger.Debug("Skipping aborted job", "jobKey", job.Key)
		return
	}

	ctx, cancel := context.WithCancel(tracing.Extract(p.baseCtx, job.OtelContext))
	ctx, span := tracing.Tracer().Start(ctx, "attribution-worker/attribute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "infinigram"),
			attribute.String("messaging.message.id", job.Key),
			attribute.String("messaging.destination.name", p.QueueName()),
			attribute.String("index", p.index),
		))
	e.cancel = cancel
	job.MarkStarted()
	handler := p.handler
	p.mu.Unlock()

	p.logger.Info("Processing job", "jobKey", job.Key, "function", job.Function)
	body, err := p.run(ctx, handler, job)
	cancel()
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	p.mu.Lock()
	defer p.mu.Unlock()
	if job.Status == JobAbandoned {
		p.logger.Info("Discarding result of aborted job", "jobKey", job.Key, "duration", job.Duration().String())
		return
	}
	delete(p.jobs, job.Key)
	if err != nil {
		job.MarkFailed(err)
		p.failed++
		p.logger.Error("Job failed", "jobKey", job.Key, "error", err.Error(), "duration", job.Duration().String())
	} else {
		job.MarkCompleted()
		p.processed++
		p.logger.Info("Job completed", "jobKey", job.Key, "duration", job.Duration().String())
	}
	e.result <- Outcome{Body: body, Err: err}
}

// run calls the handler, turning a panic into a job failure so one bad input
// cannot take down the index.
func (p *Pool) run(ctx context.Context, handler Handler, job *Job) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Key, r)
		}
	}()
	return handler(ctx, job)
}
