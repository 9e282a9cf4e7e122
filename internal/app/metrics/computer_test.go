package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/avolric/crewsight/internal/domain/facility"
	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// mockFacilityStore implements facility.Store for testing.
type mockFacilityStore struct {
	getAllBuildingsFn       func(ctx context.Context) ([]facility.Building, error)
	countBuildingsFn        func(ctx context.Context) (int, error)
	tasksScheduledOnFn      func(ctx context.Context, buildingID uuid.UUID, day time.Time) ([]facility.Task, error)
	workerPresenceFn        func(ctx context.Context, buildingID uuid.UUID, day time.Time) (facility.WorkerPresence, error)
	maintenanceStatsFn      func(ctx context.Context, buildingID uuid.UUID, since time.Time) (facility.MaintenanceStats, error)
	dailyCompletionCountsFn func(ctx context.Context, buildingID uuid.UUID, days int) ([]facility.DailyCompletionCount, error)
	lastActivityAtFn        func(ctx context.Context, buildingID uuid.UUID) (time.Time, error)
}

func (m *mockFacilityStore) GetAllBuildings(ctx context.Context) ([]facility.Building, error) {
	if m.getAllBuildingsFn != nil {
		return m.getAllBuildingsFn(ctx)
	}
	return nil, nil
}

func (m *mockFacilityStore) CountBuildings(ctx context.Context) (int, error) {
	if m.countBuildingsFn != nil {
		return m.countBuildingsFn(ctx)
	}
	return 0, nil
}

func (m *mockFacilityStore) TasksScheduledOn(ctx context.Context, buildingID uuid.UUID, day time.Time) ([]facility.Task, error) {
	if m.tasksScheduledOnFn != nil {
		return m.tasksScheduledOnFn(ctx, buildingID, day)
	}
	return nil, nil
}

func (m *mockFacilityStore) WorkerPresence(ctx context.Context, buildingID uuid.UUID, day time.Time) (facility.WorkerPresence, error) {
	if m.workerPresenceFn != nil {
		return m.workerPresenceFn(ctx, buildingID, day)
	}
	return facility.WorkerPresence{}, nil
}

func (m *mockFacilityStore) MaintenanceStats(ctx context.Context, buildingID uuid.UUID, since time.Time) (facility.MaintenanceStats, error) {
	if m.maintenanceStatsFn != nil {
		return m.maintenanceStatsFn(ctx, buildingID, since)
	}
	return facility.MaintenanceStats{}, nil
}

func (m *mockFacilityStore) DailyCompletionCounts(ctx context.Context, buildingID uuid.UUID, days int) ([]facility.DailyCompletionCount, error) {
	if m.dailyCompletionCountsFn != nil {
		return m.dailyCompletionCountsFn(ctx, buildingID, days)
	}
	return nil, nil
}

func (m *mockFacilityStore) LastActivityAt(ctx context.Context, buildingID uuid.UUID) (time.Time, error) {
	if m.lastActivityAtFn != nil {
		return m.lastActivityAtFn(ctx, buildingID)
	}
	return time.Time{}, facility.ErrNoActivity
}

func newTestComputer(store facility.Store) (*Computer, *mockTimeProvider) {
	computer := NewComputer(
		store,
		common.NewRateLimiter(100, 100),
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	tp := &mockTimeProvider{now: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	computer.timeProvider = tp
	return computer, tp
}

func TestComputer_ComputeAssemblesSnapshot(t *testing.T) {
	buildingID := uuid.New()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	lastActivity := now.Add(-30 * time.Minute)

	var capturedSince time.Time
	var capturedDays int

	dueEarlier := now.Add(-time.Hour)
	store := &mockFacilityStore{
		tasksScheduledOnFn: func(ctx context.Context, id uuid.UUID, day time.Time) ([]facility.Task, error) {
			return []facility.Task{
				{ID: uuid.New(), BuildingID: id, Status: facility.TaskStatusCompleted, ScheduledAt: day.Add(-5 * time.Hour)},
				{ID: uuid.New(), BuildingID: id, Status: facility.TaskStatusCompleted, ScheduledAt: day.Add(-4 * time.Hour)},
				{ID: uuid.New(), BuildingID: id, Status: facility.TaskStatusCompleted, ScheduledAt: day.Add(-3 * time.Hour)},
				{ID: uuid.New(), BuildingID: id, Status: facility.TaskStatusPending, Priority: facility.TaskPriorityUrgent, ScheduledAt: day.Add(-2 * time.Hour), DueAt: &dueEarlier},
			}, nil
		},
		workerPresenceFn: func(ctx context.Context, id uuid.UUID, day time.Time) (facility.WorkerPresence, error) {
			return facility.WorkerPresence{ActiveWorkers: 2, OnSite: true}, nil
		},
		maintenanceStatsFn: func(ctx context.Context, id uuid.UUID, since time.Time) (facility.MaintenanceStats, error) {
			capturedSince = since
			return facility.MaintenanceStats{Scheduled: 10, Completed: 9}, nil
		},
		dailyCompletionCountsFn: func(ctx context.Context, id uuid.UUID, days int) ([]facility.DailyCompletionCount, error) {
			capturedDays = days
			return []facility.DailyCompletionCount{
				{Day: now.AddDate(0, 0, -3), Completed: 2},
				{Day: now.AddDate(0, 0, -2), Completed: 4},
				{Day: now.AddDate(0, 0, -1), Completed: 6},
			}, nil
		},
		lastActivityAtFn: func(ctx context.Context, id uuid.UUID) (time.Time, error) {
			return lastActivity, nil
		},
	}
	computer, _ := newTestComputer(store)

	m, err := computer.Compute(context.Background(), buildingID)
	require.NoError(t, err)

	assert.Equal(t, buildingID, m.BuildingID())
	assert.Equal(t, 4, m.TotalTasks())
	assert.Equal(t, 3, m.CompletedTasks())
	assert.Equal(t, 1, m.PendingTasks())
	assert.Equal(t, 1, m.OverdueTasks())
	assert.Equal(t, 1, m.UrgentTasks())
	assert.InDelta(t, 0.75, m.CompletionRate(), 1e-9)
	assert.False(t, m.Compliant())
	assert.Equal(t, 2, m.ActiveWorkers())
	assert.True(t, m.WorkerOnSite())
	assert.InDelta(t, 0.9, m.Efficiency(), 1e-9)
	assert.InDelta(t, 4.0, m.WeeklyTrend(), 1e-9)
	require.NotNil(t, m.LastActivityAt())
	assert.Equal(t, lastActivity, *m.LastActivityAt())
	// 0.75*60 + 0 (non-compliant) + 10 (workers present).
	assert.Equal(t, 55, m.OverallScore())
	assert.Equal(t, now, m.ComputedAt())

	assert.Equal(t, now.AddDate(0, 0, -maintenanceWindowDays), capturedSince)
	assert.Equal(t, trendDays, capturedDays)
}

func TestComputer_ComputeNeutralDefaults(t *testing.T) {
	buildingID := uuid.New()

	// Everything empty: no tasks, no maintenance, no completion history,
	// no recorded activity.
	computer, tp := newTestComputer(new(mockFacilityStore))

	m, err := computer.Compute(context.Background(), buildingID)
	require.NoError(t, err)

	assert.Equal(t, 0, m.TotalTasks())
	assert.InDelta(t, 0.0, m.CompletionRate(), 1e-9)
	assert.True(t, m.Compliant(), "no tasks means nothing overdue")
	assert.InDelta(t, domain.DefaultEfficiency, m.Efficiency(), 1e-9)
	assert.InDelta(t, domain.DefaultTrend, m.WeeklyTrend(), 1e-9)
	assert.Nil(t, m.LastActivityAt())
	assert.Equal(t, 0, m.UrgentTasks())
	// Compliance alone: 0*60 + 30 + 0.
	assert.Equal(t, 30, m.OverallScore())
	assert.Equal(t, tp.Now(), m.ComputedAt())
}

func TestComputer_ComputeSingleDataPointKeepsNeutralTrend(t *testing.T) {
	store := &mockFacilityStore{
		dailyCompletionCountsFn: func(ctx context.Context, id uuid.UUID, days int) ([]facility.DailyCompletionCount, error) {
			return []facility.DailyCompletionCount{{Day: time.Now(), Completed: 7}}, nil
		},
	}
	computer, _ := newTestComputer(store)

	m, err := computer.Compute(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultTrend, m.WeeklyTrend(), 1e-9)
}

func TestComputer_ComputeStoreFailure(t *testing.T) {
	buildingID := uuid.New()
	errStore := errors.New("connection reset")

	store := &mockFacilityStore{
		workerPresenceFn: func(ctx context.Context, id uuid.UUID, day time.Time) (facility.WorkerPresence, error) {
			return facility.WorkerPresence{}, errStore
		},
	}
	computer, _ := newTestComputer(store)

	_, err := computer.Compute(context.Background(), buildingID)
	require.Error(t, err)

	var computeErr *ComputeError
	require.ErrorAs(t, err, &computeErr)
	assert.Equal(t, buildingID, computeErr.BuildingID)
	assert.ErrorIs(t, err, errStore)
}

func TestComputer_ComputeCanceledContext(t *testing.T) {
	computer, _ := newTestComputer(new(mockFacilityStore))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := computer.Compute(ctx, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
