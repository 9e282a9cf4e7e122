package metrics

import "time"

// FreshnessWindow is how long a cached snapshot stays valid before the next
// read triggers recomputation.
const FreshnessWindow = 5 * time.Minute

// CacheEntry pairs a metrics snapshot with its creation time. Entries are
// owned exclusively by the cache and replaced wholesale on refresh.
type CacheEntry struct {
	metrics    BuildingMetrics
	computedAt time.Time
}

// NewCacheEntry wraps a snapshot with its computation time.
func NewCacheEntry(m BuildingMetrics, at time.Time) CacheEntry {
	return CacheEntry{metrics: m, computedAt: at}
}

// Metrics returns the cached snapshot.
func (e CacheEntry) Metrics() BuildingMetrics { return e.metrics }

// ComputedAt returns when the snapshot was stored.
func (e CacheEntry) ComputedAt() time.Time { return e.computedAt }

// IsExpired reports whether the entry's age exceeds the freshness window as
// of now.
func (e CacheEntry) IsExpired(now time.Time, window time.Duration) bool {
	return now.Sub(e.computedAt) > window
}
