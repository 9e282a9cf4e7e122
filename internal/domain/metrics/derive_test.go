package metrics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/avolric/crewsight/internal/domain/facility"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestCountTasks(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	morning := now.Add(-5 * time.Hour)
	buildingID := uuid.New()

	tasks := []facility.Task{
		// Completed this morning.
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusCompleted, ScheduledAt: morning, CompletedAt: timePtr(now.Add(-time.Hour))},
		// Pending with a due time still ahead.
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusPending, ScheduledAt: morning, DueAt: timePtr(now.Add(2 * time.Hour))},
		// Pending with a due time in the past: overdue.
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusPending, ScheduledAt: morning, DueAt: timePtr(now.Add(-time.Hour))},
		// Pending with no due time, scheduled earlier today: overdue.
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusInProgress, ScheduledAt: morning, Priority: facility.TaskPriorityUrgent},
		// Scheduled yesterday, not counted at all.
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusPending, ScheduledAt: now.AddDate(0, 0, -1)},
	}

	counts := CountTasks(tasks, now)

	assert.Equal(t, 4, counts.Total)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 2, counts.Overdue)
	assert.Equal(t, 1, counts.Urgent)
}

func TestCountTasks_CompletedNeverOverdue(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	tasks := []facility.Task{
		{
			ID:          uuid.New(),
			Status:      facility.TaskStatusCompleted,
			ScheduledAt: now.Add(-6 * time.Hour),
			DueAt:       timePtr(now.Add(-3 * time.Hour)),
			CompletedAt: timePtr(now.Add(-2 * time.Hour)),
		},
	}

	counts := CountTasks(tasks, now)
	assert.Zero(t, counts.Overdue)
}

func TestEfficiencyFrom(t *testing.T) {
	tests := []struct {
		name     string
		stats    facility.MaintenanceStats
		expected float64
	}{
		{
			name:     "normal ratio",
			stats:    facility.MaintenanceStats{Scheduled: 20, Completed: 18},
			expected: 0.9,
		},
		{
			name:     "nothing scheduled falls back to default",
			stats:    facility.MaintenanceStats{},
			expected: DefaultEfficiency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, EfficiencyFrom(tt.stats), 1e-9)
		})
	}
}

func TestTrendFrom(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	counts := []facility.DailyCompletionCount{
		{Day: day.AddDate(0, 0, -2), Completed: 4},
		{Day: day.AddDate(0, 0, -1), Completed: 6},
		{Day: day, Completed: 5},
	}
	assert.InDelta(t, 5.0, TrendFrom(counts), 1e-9)

	// A single data point is insufficient.
	assert.Equal(t, DefaultTrend, TrendFrom(counts[:1]))
	assert.Equal(t, DefaultTrend, TrendFrom(nil))
}

func TestFromTasks(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	buildingID := uuid.New()

	tasks := []facility.Task{
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusCompleted, ScheduledAt: now.Add(-time.Hour), CompletedAt: timePtr(now)},
		{ID: uuid.New(), BuildingID: buildingID, Status: facility.TaskStatusPending, ScheduledAt: now.Add(-2 * time.Hour)},
	}

	m := FromTasks(buildingID, tasks, now)

	assert.Equal(t, buildingID, m.BuildingID())
	assert.Equal(t, 2, m.TotalTasks())
	assert.Equal(t, 1, m.CompletedTasks())
	assert.Equal(t, DefaultEfficiency, m.Efficiency())
	assert.Zero(t, m.ActiveWorkers())
	assert.Equal(t, Score(0.5, false, 0), m.OverallScore())
}
