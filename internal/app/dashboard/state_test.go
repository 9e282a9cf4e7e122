package dashboard

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/internal/domain/metrics"
)

func TestUnifiedState_LastWriterWins(t *testing.T) {
	state := NewUnifiedState()
	buildingID := uuid.New()
	now := time.Now().UTC()

	first := metrics.FromSnapshot(metrics.Snapshot{
		BuildingID: buildingID, TotalTasks: 4, CompletedTasks: 1, ComputedAt: now,
	})
	second := metrics.FromSnapshot(metrics.Snapshot{
		BuildingID: buildingID, TotalTasks: 4, CompletedTasks: 3, ComputedAt: now.Add(time.Minute),
	})

	state.ApplyMetrics(first)
	state.ApplyMetrics(second)

	got, ok := state.BuildingMetrics(buildingID)
	require.True(t, ok)
	assert.Equal(t, 3, got.CompletedTasks())
	assert.Equal(t, 1, state.BuildingCount())
}

func TestUnifiedState_UnknownBuilding(t *testing.T) {
	state := NewUnifiedState()

	_, ok := state.BuildingMetrics(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, 0, state.BuildingCount())
}

func TestUnifiedState_IntelligenceLifecycle(t *testing.T) {
	state := NewUnifiedState()

	_, ok := state.Intelligence()
	assert.False(t, ok, "no intelligence before the first portfolio refresh")

	pi := domain.BuildIntelligence(3, nil, time.Now().UTC(), true)
	state.ApplyIntelligence(pi)

	got, ok := state.Intelligence()
	require.True(t, ok)
	assert.Equal(t, 3, got.BuildingCount)
	assert.True(t, got.AutoGenerated)
}

func TestUnifiedState_AllBuildingMetricsReturnsCopy(t *testing.T) {
	state := NewUnifiedState()
	buildingID := uuid.New()
	state.ApplyMetrics(metrics.Empty(buildingID, time.Now().UTC()))

	snapshot := state.AllBuildingMetrics()
	require.Len(t, snapshot, 1)

	delete(snapshot, buildingID)
	assert.Equal(t, 1, state.BuildingCount(), "mutating the returned map must not touch state")
}

func TestUnifiedState_UpdatedAtAdvances(t *testing.T) {
	state := NewUnifiedState()
	assert.True(t, state.UpdatedAt().IsZero())

	state.ApplyMetrics(metrics.Empty(uuid.New(), time.Now().UTC()))
	assert.False(t, state.UpdatedAt().IsZero())
}
