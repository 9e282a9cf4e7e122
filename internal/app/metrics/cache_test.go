package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common/logger"
)

type mockTimeProvider struct {
	mu  sync.RWMutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// mockCacheMetrics implements CacheMetrics with plain counters.
type mockCacheMetrics struct {
	mu                sync.Mutex
	hits              int
	misses            int
	computations      int
	computationErrors int
	invalidations     int
	activeFeeds       int
}

func (m *mockCacheMetrics) IncCacheHit(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *mockCacheMetrics) IncCacheMiss(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *mockCacheMetrics) IncComputation(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computations++
}

func (m *mockCacheMetrics) IncComputationError(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computationErrors++
}

func (m *mockCacheMetrics) ObserveComputationTime(context.Context, time.Duration) {}

func (m *mockCacheMetrics) IncInvalidation(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
}

func (m *mockCacheMetrics) IncObservationFeeds(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeFeeds++
}

func (m *mockCacheMetrics) DecObservationFeeds(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeFeeds--
}

func (m *mockCacheMetrics) snapshot() (hits, misses, computations, computationErrors, invalidations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.computations, m.computationErrors, m.invalidations
}

// mockComputeSource implements ComputeSource with a configurable function.
type mockComputeSource struct {
	mu           sync.Mutex
	computeCalls int
	computeFn    func(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error)
}

func (m *mockComputeSource) Compute(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error) {
	m.mu.Lock()
	m.computeCalls++
	m.mu.Unlock()

	if m.computeFn != nil {
		return m.computeFn(ctx, buildingID)
	}
	return domain.Empty(buildingID, time.Now().UTC()), nil
}

func (m *mockComputeSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computeCalls
}

func newTestCache(t *testing.T, source ComputeSource, streamer *mockTaskStreamer) (*Cache, *mockCacheMetrics, *mockTimeProvider) {
	t.Helper()

	if streamer == nil {
		streamer = new(mockTaskStreamer)
	}
	collector := new(mockCacheMetrics)
	registry := NewObservationRegistry(
		streamer,
		collector,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	cache := NewCache(
		source,
		registry,
		0,
		collector,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)

	tp := &mockTimeProvider{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	cache.timeProvider = tp
	return cache, collector, tp
}

func testMetricsFor(buildingID uuid.UUID, at time.Time) domain.BuildingMetrics {
	return domain.FromSnapshot(domain.Snapshot{
		BuildingID:     buildingID,
		TotalTasks:     4,
		CompletedTasks: 3,
		ActiveWorkers:  2,
		Efficiency:     0.9,
		ComputedAt:     at,
	})
}

func TestCache_GetComputesOnMiss(t *testing.T) {
	buildingID := uuid.New()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	want := testMetricsFor(buildingID, at)

	source := &mockComputeSource{
		computeFn: func(ctx context.Context, id uuid.UUID) (domain.BuildingMetrics, error) {
			return want, nil
		},
	}
	cache, collector, _ := newTestCache(t, source, nil)

	got, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, source.calls())
	assert.Equal(t, 1, cache.Size())

	hits, misses, computations, _, _ := collector.snapshot()
	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, computations)
}

func TestCache_GetServesFreshEntryWithoutRecompute(t *testing.T) {
	buildingID := uuid.New()
	source := new(mockComputeSource)
	cache, collector, tp := newTestCache(t, source, nil)

	first, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)

	// Still inside the freshness window.
	tp.Advance(domain.FreshnessWindow - time.Second)

	second, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls())

	hits, misses, _, _, _ := collector.snapshot()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestCache_GetRecomputesAfterExpiry(t *testing.T) {
	buildingID := uuid.New()
	source := new(mockComputeSource)
	cache, collector, tp := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)

	tp.Advance(domain.FreshnessWindow + time.Second)

	_, err = cache.Get(context.Background(), buildingID)
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls())

	hits, misses, computations, _, _ := collector.snapshot()
	assert.Equal(t, 0, hits)
	assert.Equal(t, 2, misses)
	assert.Equal(t, 2, computations)
}

func TestCache_GetComputeFailureSurfaces(t *testing.T) {
	buildingID := uuid.New()
	errStore := errors.New("store down")

	source := &mockComputeSource{
		computeFn: func(ctx context.Context, id uuid.UUID) (domain.BuildingMetrics, error) {
			return domain.BuildingMetrics{}, &ComputeError{BuildingID: id, Err: errStore}
		},
	}
	cache, collector, _ := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), buildingID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStore)

	var computeErr *ComputeError
	require.ErrorAs(t, err, &computeErr)
	assert.Equal(t, buildingID, computeErr.BuildingID)

	// Failures are never cached.
	assert.Equal(t, 0, cache.Size())

	_, _, _, computationErrors, _ := collector.snapshot()
	assert.Equal(t, 1, computationErrors)
}

func TestCache_GetBatchOmitsFailedBuildings(t *testing.T) {
	okID1 := uuid.New()
	okID2 := uuid.New()
	failID := uuid.New()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	source := &mockComputeSource{
		computeFn: func(ctx context.Context, id uuid.UUID) (domain.BuildingMetrics, error) {
			if id == failID {
				return domain.BuildingMetrics{}, &ComputeError{BuildingID: id, Err: errors.New("boom")}
			}
			return testMetricsFor(id, at), nil
		},
	}
	cache, _, _ := newTestCache(t, source, nil)

	results := cache.GetBatch(context.Background(), []uuid.UUID{okID1, failID, okID2})

	assert.Equal(t, 3, source.calls())
	require.Len(t, results, 2)
	assert.Contains(t, results, okID1)
	assert.Contains(t, results, okID2)
	assert.NotContains(t, results, failID)
	assert.Equal(t, okID1, results[okID1].BuildingID())
}

func TestCache_GetBatchServesCachedEntries(t *testing.T) {
	cachedID := uuid.New()
	coldID := uuid.New()

	source := new(mockComputeSource)
	cache, collector, _ := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), cachedID)
	require.NoError(t, err)

	results := cache.GetBatch(context.Background(), []uuid.UUID{cachedID, coldID})

	require.Len(t, results, 2)
	// Only the cold building needed a computation.
	assert.Equal(t, 2, source.calls())

	hits, misses, _, _, _ := collector.snapshot()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)
}

func TestCache_GetBatchEmpty(t *testing.T) {
	source := new(mockComputeSource)
	cache, _, _ := newTestCache(t, source, nil)

	results := cache.GetBatch(context.Background(), nil)

	assert.Empty(t, results)
	assert.Equal(t, 0, source.calls())
}

// Concurrent lookups for the same cold building each run their own
// computation; neither waits on the other and the cache ends up with a
// single stored entry.
func TestCache_ConcurrentColdLookupsComputeIndependently(t *testing.T) {
	buildingID := uuid.New()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	want := testMetricsFor(buildingID, at)

	var entered sync.WaitGroup
	entered.Add(2)
	release := make(chan struct{})

	source := &mockComputeSource{
		computeFn: func(ctx context.Context, id uuid.UUID) (domain.BuildingMetrics, error) {
			entered.Done()
			<-release
			return want, nil
		},
	}
	cache, _, _ := newTestCache(t, source, nil)

	results := make(chan domain.BuildingMetrics, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			m, err := cache.Get(context.Background(), buildingID)
			results <- m
			errs <- err
		}()
	}

	// Both callers must reach the compute source before either finishes.
	bothComputing := make(chan struct{})
	go func() {
		entered.Wait()
		close(bothComputing)
	}()
	select {
	case <-bothComputing:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both lookups to start computing")
	}
	close(release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, want, <-results)
	}
	assert.Equal(t, 2, source.calls())
	assert.Equal(t, 1, cache.Size())
}

func TestCache_RefreshReplacesFreshEntry(t *testing.T) {
	buildingID := uuid.New()
	source := new(mockComputeSource)
	streamer := new(mockTaskStreamer)
	cache, _, _ := newTestCache(t, source, streamer)

	_, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)

	_, err = cache.Observe(context.Background(), buildingID)
	require.NoError(t, err)
	require.Equal(t, 1, cache.registry.ActiveFeeds())

	// Refresh recomputes despite the entry still being fresh.
	_, err = cache.Refresh(context.Background(), buildingID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls())
	assert.Equal(t, 1, cache.Size())

	// Unlike Invalidate, live observations survive a refresh.
	assert.Equal(t, 1, cache.registry.ActiveFeeds())

	// The replaced entry is fresh; the next read serves it.
	_, err = cache.Get(context.Background(), buildingID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls())
}

func TestCache_InvalidateForcesRecompute(t *testing.T) {
	buildingID := uuid.New()
	source := new(mockComputeSource)
	cache, collector, _ := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), buildingID)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Size())

	cache.Invalidate(context.Background(), buildingID)
	assert.Equal(t, 0, cache.Size())

	_, err = cache.Get(context.Background(), buildingID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls())

	_, _, _, _, invalidations := collector.snapshot()
	assert.Equal(t, 1, invalidations)
}

func TestCache_InvalidateReleasesObservationFeed(t *testing.T) {
	buildingID := uuid.New()
	streamer := new(mockTaskStreamer)
	cache, _, _ := newTestCache(t, new(mockComputeSource), streamer)

	ch, err := cache.Observe(context.Background(), buildingID)
	require.NoError(t, err)
	require.Equal(t, 1, cache.registry.ActiveFeeds())

	cache.Invalidate(context.Background(), buildingID)

	assert.Equal(t, 0, cache.registry.ActiveFeeds())
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "observation channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for observation channel to close")
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	id1 := uuid.New()
	id2 := uuid.New()
	source := new(mockComputeSource)
	cache, _, _ := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), id1)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), id2)
	require.NoError(t, err)
	require.Equal(t, 2, cache.Size())

	cache.InvalidateAll(context.Background())
	assert.Equal(t, 0, cache.Size())

	_, err = cache.Get(context.Background(), id1)
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls())
}

func TestCache_SweepExpired(t *testing.T) {
	staleID := uuid.New()
	freshID := uuid.New()
	source := new(mockComputeSource)
	cache, _, tp := newTestCache(t, source, nil)

	_, err := cache.Get(context.Background(), staleID)
	require.NoError(t, err)

	tp.Advance(domain.FreshnessWindow + time.Second)

	_, err = cache.Get(context.Background(), freshID)
	require.NoError(t, err)
	require.Equal(t, 2, cache.Size())

	removed := cache.SweepExpired(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Size())

	// The fresh entry survives the sweep.
	_, err = cache.Get(context.Background(), freshID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls())
}
