package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/avolric/crewsight/internal/domain/metrics"
)

// snapshotStore holds one cache entry per building and answers freshness
// checks. It knows nothing about its callers; the cache is its only owner
// and serializes all writes through it.
type snapshotStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]domain.CacheEntry
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{entries: make(map[uuid.UUID]domain.CacheEntry)}
}

// Fresh returns the building's snapshot when an entry exists and has not
// aged past the window.
func (s *snapshotStore) Fresh(buildingID uuid.UUID, now time.Time, window time.Duration) (domain.BuildingMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[buildingID]
	if !ok || entry.IsExpired(now, window) {
		return domain.BuildingMetrics{}, false
	}
	return entry.Metrics(), true
}

// Put replaces the building's entry wholesale.
func (s *snapshotStore) Put(buildingID uuid.UUID, entry domain.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[buildingID] = entry
}

// Delete removes the building's entry. Removing an absent entry is a no-op.
func (s *snapshotStore) Delete(buildingID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, buildingID)
}

// Clear removes every entry.
func (s *snapshotStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[uuid.UUID]domain.CacheEntry)
}

// DeleteExpired removes entries older than the window and reports how many
// were removed.
func (s *snapshotStore) DeleteExpired(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.IsExpired(now, window) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries.
func (s *snapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
