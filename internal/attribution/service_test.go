package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	attrerrors "github.com/allenai/infinigram-api/internal/errors"
	"github.com/allenai/infinigram-api/internal/jobs"
	"github.com/allenai/infinigram-api/internal/slogutil"
	"github.com/allenai/infinigram-api/internal/storage"
)

// countingDispatcher answers every dispatch with a fixed response and
// records what it was asked to run.
type countingDispatcher struct {
	calls    atomic.Int32
	err      error
	release  chan struct{}
	entered  chan struct{}
	mu       sync.Mutex
	function string
	args     JobArgs
}

func (d *countingDispatcher) Dispatch(ctx context.Context, index, function string, args interface{}, key string) ([]byte, error) {
	if d.calls.Add(1) == 1 && d.entered != nil {
		close(d.entered)
	}
	if d.release != nil {
		<-d.release
	}

	d.mu.Lock()
	d.function = function
	d.args = args.(JobArgs)
	d.mu.Unlock()

	if key == "" {
		return nil, errors.New("empty job key")
	}
	if d.err != nil {
		return nil, d.err
	}
	return json.Marshal(Response{
		Index: index,
		Spans: []Span{
			{Left: 0, Right: 2, Length: 2, Count: 1, Text: "apple banana", Documents: []Document{doc(1, "apple banana"), doc(2, "cherry date")}},
			{Left: 3, Right: 5, Length: 2, Count: 1, Text: "elder fig", Documents: []Document{doc(3, "elder fig")}},
		},
	})
}

func (d *countingDispatcher) Indexes() []string {
	return []string{"olmo", "pileval"}
}

type failingCache struct{}

func (failingCache) Get(context.Context, []byte) ([]byte, bool, error) {
	return nil, false, errors.New("cache unavailable")
}
func (failingCache) Set(context.Context, []byte, []byte, time.Duration) error {
	return errors.New("cache unavailable")
}
func (failingCache) Expire(context.Context, []byte, time.Duration) error {
	return errors.New("cache unavailable")
}

// recordingCache wraps a MemoryCache and remembers the last TTLs used.
type recordingCache struct {
	*storage.MemoryCache
	mu        sync.Mutex
	setTTL    time.Duration
	expireTTL time.Duration
}

func (c *recordingCache) Set(ctx context.Context, key, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.setTTL = ttl
	c.mu.Unlock()
	return c.MemoryCache.Set(ctx, key, value, ttl)
}

func (c *recordingCache) Expire(ctx context.Context, key []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.expireTTL = ttl
	c.mu.Unlock()
	return c.MemoryCache.Expire(ctx, key, ttl)
}

func newTestService(d Dispatcher, cache Cache) *Service {
	return NewService(d, cache, ServiceConfig{}, slogutil.NewDiscardLogger(), nil)
}

func testRequest() Request {
	req := DefaultRequest()
	req.Response = "apple banana cherry"
	return req
}

func TestService_CachesIdenticalRequests(t *testing.T) {
	d := &countingDispatcher{}
	cache := &recordingCache{MemoryCache: storage.NewMemoryCache()}
	svc := newTestService(d, cache)

	first, err := svc.Attribute(context.Background(), "pileval", testRequest())
	if err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	second, err := svc.Attribute(context.Background(), "pileval", testRequest())
	if err != nil {
		t.Fatalf("second Attribute() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("cached response differs:\n%s\n%s", first, second)
	}
	if n := d.calls.Load(); n != 1 {
		t.Errorf("dispatched %d times, want 1", n)
	}
	if cache.setTTL != time.Hour {
		t.Errorf("set TTL = %v, want 1h", cache.setTTL)
	}
	if cache.expireTTL != 12*time.Hour {
		t.Errorf("refresh TTL = %v, want 12h", cache.expireTTL)
	}

	changed := testRequest()
	changed.MinimumSpanLength = 2
	if _, err := svc.Attribute(context.Background(), "pileval", changed); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Attribute(context.Background(), "olmo", testRequest()); err != nil {
		t.Fatal(err)
	}
	if n := d.calls.Load(); n != 3 {
		t.Errorf("dispatched %d times, want 3", n)
	}
}

func TestService_DispatchArguments(t *testing.T) {
	d := &countingDispatcher{}
	svc := newTestService(d, storage.NoCache{})

	req := testRequest()
	req.Delimiters = []string{"\n"}
	if _, err := svc.Attribute(context.Background(), "pileval", req); err != nil {
		t.Fatal(err)
	}
	if d.function != "attribute_pileval" {
		t.Errorf("function = %q", d.function)
	}
	if d.args.Input != req.Response || d.args.Index != "pileval" || len(d.args.Delimiters) != 1 {
		t.Errorf("args = %+v", d.args)
	}
}

func TestService_CacheFailureIsSoft(t *testing.T) {
	d := &countingDispatcher{}
	svc := newTestService(d, failingCache{})

	for i := 0; i < 2; i++ {
		body, err := svc.Attribute(context.Background(), "pileval", testRequest())
		if err != nil {
			t.Fatalf("Attribute() error = %v", err)
		}
		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Spans) != 2 {
			t.Fatalf("response = %s (%v)", body, err)
		}
	}
	if n := d.calls.Load(); n != 2 {
		t.Errorf("dispatched %d times, want 2 without a working cache", n)
	}
}

func TestService_RejectsBeforeDispatch(t *testing.T) {
	d := &countingDispatcher{}
	svc := newTestService(d, storage.NewMemoryCache())

	_, err := svc.Attribute(context.Background(), "dolma", testRequest())
	if !attrerrors.IsCode(err, attrerrors.IndexNotFound) {
		t.Errorf("unknown index error = %v, want INDEX_NOT_FOUND", err)
	}

	bad := testRequest()
	bad.MaximumFrequency = 0
	_, err = svc.Attribute(context.Background(), "pileval", bad)
	if !attrerrors.IsCode(err, attrerrors.ValidationFailed) {
		t.Errorf("invalid request error = %v, want VALIDATION_FAILED", err)
	}

	if n := d.calls.Load(); n != 0 {
		t.Errorf("dispatched %d times, want 0", n)
	}
}

func TestService_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want attrerrors.ErrorCode
	}{
		{"engine", attrerrors.Engine("query is empty"), attrerrors.EngineError},
		{"deadline", jobs.ErrDeadlineExceeded, attrerrors.ServerOverloaded},
		{"queue full", jobs.ErrQueueFull, attrerrors.ServerOverloaded},
		{"pool not running", jobs.ErrNotRunning, attrerrors.ServerOverloaded},
		{"misrouted", jobs.ErrMisrouted, attrerrors.ConfigInvalid},
		{"unknown index", jobs.ErrUnknownIndex, attrerrors.IndexNotFound},
		{"other", errors.New("boom"), attrerrors.InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := storage.NewMemoryCache()
			svc := newTestService(&countingDispatcher{err: tt.err}, cache)
			_, err := svc.Attribute(context.Background(), "pileval", testRequest())
			if !attrerrors.IsCode(err, tt.want) {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
			if n, _ := cache.Purge(context.Background()); n != 0 {
				t.Errorf("failed computation left %d cache entries", n)
			}
		})
	}
}

func TestService_FiltersBeforeCaching(t *testing.T) {
	d := &countingDispatcher{}
	cache := storage.NewMemoryCache()
	svc := newTestService(d, cache)

	req := testRequest()
	req.Response = "elder"
	req.FilterMethod = FilterBM25
	req.FilterBm25RatioToKeep = 0.3

	body, err := svc.Attribute(context.Background(), "pileval", req)
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Spans) != 1 || resp.Spans[0].Documents[0].DocumentIndex != 3 {
		t.Fatalf("filtered spans = %+v", resp.Spans)
	}
	if resp.Spans[0].Documents[0].RelevanceScore == nil {
		t.Error("kept document has no relevance score")
	}

	fp, _ := FingerprintOf("pileval", req)
	cached, ok, _ := cache.Get(context.Background(), fp[:])
	if !ok || !bytes.Equal(cached, body) {
		t.Error("cache should hold the filtered response")
	}
}

func TestService_CollapsesConcurrentRequests(t *testing.T) {
	d := &countingDispatcher{release: make(chan struct{}), entered: make(chan struct{})}
	svc := newTestService(d, storage.NewMemoryCache())

	const callers = 8
	var wg sync.WaitGroup
	bodies := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bodies[i], errs[i] = svc.Attribute(context.Background(), "pileval", testRequest())
		}(i)
	}

	<-d.entered
	time.Sleep(50 * time.Millisecond)
	close(d.release)
	wg.Wait()

	for i := range bodies {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Errorf("caller %d got a different body", i)
		}
	}
	if n := d.calls.Load(); n != 1 {
		t.Errorf("dispatched %d times, want 1", n)
	}
}

func TestService_TimeoutAbortsOnce(t *testing.T) {
	blocked := make(chan struct{})
	loader := func(ctx context.Context, index string) (jobs.Handler, error) {
		return func(ctx context.Context, job *jobs.Job) ([]byte, error) {
			<-ctx.Done()
			close(blocked)
			return []byte(`{"index":"pileval","spans":[]}`), nil
		}, nil
	}

	d := jobs.NewDispatcher(50*time.Millisecond, slogutil.NewDiscardLogger(), nil)
	pool := jobs.NewPool("pileval", loader, jobs.PoolConfig{}, slogutil.NewDiscardLogger(), nil)
	if err := d.Register(pool); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Stop(time.Second) })

	cache := storage.NewMemoryCache()
	svc := newTestService(d, cache)

	_, err := svc.Attribute(context.Background(), "pileval", testRequest())
	attrErr, ok := attrerrors.As(err)
	if !ok || attrErr.Code != attrerrors.ServerOverloaded {
		t.Fatalf("error = %v, want SERVER_OVERLOADED", err)
	}
	if attrErr.Message != "server overloaded, retry later" {
		t.Errorf("message = %q", attrErr.Message)
	}

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
	if n := pool.Stats().Aborted; n != 1 {
		t.Errorf("aborted %d jobs, want 1", n)
	}

	// The worker's late result must not reach the cache.
	time.Sleep(20 * time.Millisecond)
	fp, _ := FingerprintOf("pileval", testRequest())
	if _, ok, _ := cache.Get(context.Background(), fp[:]); ok {
		t.Error("timed out computation was cached")
	}
}

func TestService_CallerCancel(t *testing.T) {
	d := &countingDispatcher{release: make(chan struct{})}
	defer close(d.release)
	svc := newTestService(d, storage.NewMemoryCache())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Attribute(ctx, "pileval", testRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want the caller's context error", err)
	}
}

func TestService_CallerCancelStillCaches(t *testing.T) {
	d := &countingDispatcher{release: make(chan struct{}), entered: make(chan struct{})}
	cache := storage.NewMemoryCache()
	svc := newTestService(d, cache)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Attribute(ctx, "pileval", testRequest())
		errc <- err
	}()
	<-d.entered
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	close(d.release)
	fp, err := FingerprintOf("pileval", testRequest())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found, _ := cache.Get(context.Background(), fp[:]); found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned job never wrote the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := svc.Attribute(context.Background(), "pileval", testRequest()); err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("dispatches = %d, want 1", got)
	}
}
