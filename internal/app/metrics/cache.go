package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common/logger"
	"github.com/avolric/crewsight/pkg/common/timeutil"
)

// ComputeSource derives a fresh metrics snapshot for one building.
type ComputeSource interface {
	Compute(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error)
}

// Cache serves per-building metrics snapshots with a fixed freshness window,
// recomputing through its ComputeSource on miss or expiry. It owns the
// snapshot store and all invalidation; nothing else mutates cached entries.
//
// Concurrent lookups for the same cold building are not collapsed: each
// caller recomputes independently and the last write wins. Both callers
// still receive equivalent fresh snapshots.
type Cache struct {
	computer ComputeSource
	registry *ObservationRegistry

	store     *snapshotStore
	freshness time.Duration

	timeProvider timeutil.Provider

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics CacheMetrics
}

// NewCache creates a Cache over the given compute source and observation
// registry. A non-positive freshness falls back to the default window.
func NewCache(
	computer ComputeSource,
	registry *ObservationRegistry,
	freshness time.Duration,
	metrics CacheMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Cache {
	if freshness <= 0 {
		freshness = domain.FreshnessWindow
	}
	return &Cache{
		computer:     computer,
		registry:     registry,
		store:        newSnapshotStore(),
		freshness:    freshness,
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "metrics_cache"),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// Get returns the building's metrics, serving from the store when the entry
// is fresh and recomputing otherwise. Compute failures surface to the caller
// as a *ComputeError.
func (c *Cache) Get(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error) {
	ctx, span := c.tracer.Start(ctx, "metrics_cache.get",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	now := c.timeProvider.Now()
	if m, ok := c.store.Fresh(buildingID, now, c.freshness); ok {
		c.metrics.IncCacheHit(ctx)
		span.AddEvent("cache_hit")
		span.SetStatus(codes.Ok, "served from cache")
		return m, nil
	}

	c.metrics.IncCacheMiss(ctx)
	span.AddEvent("cache_miss")

	m, err := c.computeAndStore(ctx, buildingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "computation failed")
		return domain.BuildingMetrics{}, err
	}

	span.AddEvent("snapshot_stored")
	span.SetStatus(codes.Ok, "metrics recomputed")
	return m, nil
}

// Refresh recomputes the building's metrics and replaces its entry even when
// the current one is still fresh. Live observations are left alone; tearing
// down registrations is Invalidate's job.
func (c *Cache) Refresh(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error) {
	ctx, span := c.tracer.Start(ctx, "metrics_cache.refresh",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	m, err := c.computeAndStore(ctx, buildingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "computation failed")
		return domain.BuildingMetrics{}, err
	}

	span.AddEvent("snapshot_replaced")
	span.SetStatus(codes.Ok, "metrics refreshed")
	return m, nil
}

// computeAndStore runs one computation and replaces the building's entry on
// success.
func (c *Cache) computeAndStore(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error) {
	start := time.Now()
	m, err := c.computer.Compute(ctx, buildingID)
	if err != nil {
		c.metrics.IncComputationError(ctx)
		return domain.BuildingMetrics{}, err
	}
	c.metrics.IncComputation(ctx)
	c.metrics.ObserveComputationTime(ctx, time.Since(start))

	c.store.Put(buildingID, domain.NewCacheEntry(m, c.timeProvider.Now()))
	return m, nil
}

// GetBatch fans out one Get per building concurrently and joins the results.
// A failure for one building is logged and its entry omitted; the batch
// itself never fails and siblings are not canceled.
func (c *Cache) GetBatch(ctx context.Context, buildingIDs []uuid.UUID) map[uuid.UUID]domain.BuildingMetrics {
	ctx, span := c.tracer.Start(ctx, "metrics_cache.get_batch",
		trace.WithAttributes(
			attribute.Int("batch_size", len(buildingIDs)),
		))
	defer span.End()

	results := make(map[uuid.UUID]domain.BuildingMetrics, len(buildingIDs))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, buildingID := range buildingIDs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()

			m, err := c.Get(ctx, id)
			if err != nil {
				c.logger.Warn(ctx, "batch metrics lookup failed", "building_id", id, "err", err)
				return
			}

			mu.Lock()
			results[id] = m
			mu.Unlock()
		}(buildingID)
	}
	wg.Wait()

	span.AddEvent("batch_joined", trace.WithAttributes(
		attribute.Int("result_count", len(results)),
	))
	span.SetStatus(codes.Ok, "batch complete")
	return results
}

// Invalidate removes the building's cache entry and releases any live
// observation feed for it. Idempotent.
func (c *Cache) Invalidate(ctx context.Context, buildingID uuid.UUID) {
	_, span := c.tracer.Start(ctx, "metrics_cache.invalidate",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	c.store.Delete(buildingID)
	c.registry.Release(ctx, buildingID)
	c.metrics.IncInvalidation(ctx)

	span.AddEvent("entry_invalidated")
}

// InvalidateAll clears the entire store and every observation registration.
// Used after structural changes such as the building list changing shape.
func (c *Cache) InvalidateAll(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "metrics_cache.invalidate_all")
	defer span.End()

	c.store.Clear()
	c.registry.ReleaseAll(ctx)
	c.metrics.IncInvalidation(ctx)

	c.logger.Info(ctx, "metrics cache cleared")
	span.AddEvent("cache_cleared")
}

// Observe returns a live stream of the building's metrics, derived from raw
// task rows as they change rather than from cached snapshots. Subscribers
// for the same building share one underlying feed.
func (c *Cache) Observe(ctx context.Context, buildingID uuid.UUID) (<-chan domain.BuildingMetrics, error) {
	return c.registry.Observe(ctx, buildingID)
}

// SweepExpired drops entries past the freshness window so cold buildings do
// not pin stale snapshots in memory. Returns the number of entries removed.
func (c *Cache) SweepExpired(ctx context.Context) int {
	removed := c.store.DeleteExpired(c.timeProvider.Now(), c.freshness)
	if removed > 0 {
		c.logger.Debug(ctx, "swept expired cache entries", "removed", removed)
	}
	return removed
}

// Size returns the number of cached entries.
func (c *Cache) Size() int { return c.store.Len() }
