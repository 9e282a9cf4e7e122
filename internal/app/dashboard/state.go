package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/internal/domain/metrics"
)

// UnifiedState holds the latest known metrics snapshot per building plus the
// latest portfolio intelligence. Refresh completion handlers are the only
// writers; everything else reads. Writes for the same building apply
// last-writer-wins, so out-of-order refresh completions converge on whatever
// finished last rather than erroring.
type UnifiedState struct {
	mu           sync.RWMutex
	buildings    map[uuid.UUID]metrics.BuildingMetrics
	intelligence *domain.PortfolioIntelligence
	updatedAt    time.Time
}

// NewUnifiedState creates an empty unified state.
func NewUnifiedState() *UnifiedState {
	return &UnifiedState{buildings: make(map[uuid.UUID]metrics.BuildingMetrics)}
}

// ApplyMetrics stores the building's latest snapshot, replacing any previous
// one.
func (s *UnifiedState) ApplyMetrics(m metrics.BuildingMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildings[m.BuildingID()] = m
	s.updatedAt = time.Now().UTC()
}

// ApplyIntelligence stores the latest portfolio summary.
func (s *UnifiedState) ApplyIntelligence(pi domain.PortfolioIntelligence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intelligence = &pi
	s.updatedAt = time.Now().UTC()
}

// BuildingMetrics returns the latest snapshot for the building, if one has
// been applied.
func (s *UnifiedState) BuildingMetrics(buildingID uuid.UUID) (metrics.BuildingMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.buildings[buildingID]
	return m, ok
}

// AllBuildingMetrics returns a copy of every building's latest snapshot.
func (s *UnifiedState) AllBuildingMetrics() map[uuid.UUID]metrics.BuildingMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]metrics.BuildingMetrics, len(s.buildings))
	for id, m := range s.buildings {
		out[id] = m
	}
	return out
}

// BuildingCount returns the number of buildings with an applied snapshot.
// The reconciliation loop compares this against the store's count.
func (s *UnifiedState) BuildingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buildings)
}

// Intelligence returns the latest portfolio summary, if one has been
// generated.
func (s *UnifiedState) Intelligence() (domain.PortfolioIntelligence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.intelligence == nil {
		return domain.PortfolioIntelligence{}, false
	}
	return *s.intelligence, true
}

// UpdatedAt returns when the state last changed.
func (s *UnifiedState) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
