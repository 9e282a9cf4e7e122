// Package metrics implements the per-building metrics engine: the TTL cache
// and its backing snapshot store, the computer that derives snapshots from
// raw facility rows, and the registry of live metric observations.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics defines the metrics operations recorded by the cache and its
// collaborators.
type CacheMetrics interface {
	IncCacheHit(ctx context.Context)
	IncCacheMiss(ctx context.Context)
	IncComputation(ctx context.Context)
	IncComputationError(ctx context.Context)
	ObserveComputationTime(ctx context.Context, d time.Duration)
	IncInvalidation(ctx context.Context)
	IncObservationFeeds(ctx context.Context)
	DecObservationFeeds(ctx context.Context)
}

// cacheMetrics implements CacheMetrics backed by OTel instruments.
type cacheMetrics struct {
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	computations      metric.Int64Counter
	computationErrors metric.Int64Counter
	computationTime   metric.Float64Histogram
	invalidations     metric.Int64Counter
	observationFeeds  metric.Int64UpDownCounter
}

const namespace = "metrics_cache"

// NewCacheMetrics creates the cache metrics instruments.
func NewCacheMetrics(mp metric.MeterProvider) (*cacheMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	c := new(cacheMetrics)
	var err error

	if c.cacheHits, err = meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Total number of metrics served from the cache"),
	); err != nil {
		return nil, err
	}

	if c.cacheMisses, err = meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Total number of lookups that missed or found an expired entry"),
	); err != nil {
		return nil, err
	}

	if c.computations, err = meter.Int64Counter(
		"computations_total",
		metric.WithDescription("Total number of metrics computations"),
	); err != nil {
		return nil, err
	}

	if c.computationErrors, err = meter.Int64Counter(
		"computation_errors_total",
		metric.WithDescription("Total number of failed metrics computations"),
	); err != nil {
		return nil, err
	}

	if c.computationTime, err = meter.Float64Histogram(
		"computation_duration_seconds",
		metric.WithDescription("Time taken to derive one building's metrics"),
	); err != nil {
		return nil, err
	}

	if c.invalidations, err = meter.Int64Counter(
		"invalidations_total",
		metric.WithDescription("Total number of cache invalidations"),
	); err != nil {
		return nil, err
	}

	if c.observationFeeds, err = meter.Int64UpDownCounter(
		"observation_feeds",
		metric.WithDescription("Number of live per-building observation feeds"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *cacheMetrics) IncCacheHit(ctx context.Context)  { c.cacheHits.Add(ctx, 1) }
func (c *cacheMetrics) IncCacheMiss(ctx context.Context) { c.cacheMisses.Add(ctx, 1) }

func (c *cacheMetrics) IncComputation(ctx context.Context) { c.computations.Add(ctx, 1) }

func (c *cacheMetrics) IncComputationError(ctx context.Context) {
	c.computationErrors.Add(ctx, 1)
}

func (c *cacheMetrics) ObserveComputationTime(ctx context.Context, d time.Duration) {
	c.computationTime.Record(ctx, d.Seconds())
}

func (c *cacheMetrics) IncInvalidation(ctx context.Context) { c.invalidations.Add(ctx, 1) }

func (c *cacheMetrics) IncObservationFeeds(ctx context.Context) {
	c.observationFeeds.Add(ctx, 1)
}

func (c *cacheMetrics) DecObservationFeeds(ctx context.Context) {
	c.observationFeeds.Add(ctx, -1)
}
