package facility

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store provides the row-oriented queries the metrics engine derives its
// snapshots from. Implementations must be safe for concurrent use; every
// method may be called from multiple goroutines computing different
// buildings at once.
type Store interface {
	// GetAllBuildings returns every building under management.
	GetAllBuildings(ctx context.Context) ([]Building, error)

	// CountBuildings returns the authoritative number of buildings. It is
	// intentionally cheap so the reconciliation loop can call it every tick.
	CountBuildings(ctx context.Context) (int, error)

	// TasksScheduledOn returns the building's tasks scheduled on the given day.
	TasksScheduledOn(ctx context.Context, buildingID uuid.UUID, day time.Time) ([]Task, error)

	// WorkerPresence returns worker coverage for the building on the given day.
	WorkerPresence(ctx context.Context, buildingID uuid.UUID, day time.Time) (WorkerPresence, error)

	// MaintenanceStats returns maintenance throughput for the building since
	// the given time.
	MaintenanceStats(ctx context.Context, buildingID uuid.UUID, since time.Time) (MaintenanceStats, error)

	// DailyCompletionCounts returns per-day completion totals for the
	// building over the trailing number of days, oldest first. Days with no
	// completions may be omitted.
	DailyCompletionCounts(ctx context.Context, buildingID uuid.UUID, days int) ([]DailyCompletionCount, error)

	// LastActivityAt returns the most recent task or clock activity at the
	// building. Returns ErrNoActivity when the building has none.
	LastActivityAt(ctx context.Context, buildingID uuid.UUID) (time.Time, error)
}

// TaskSnapshot is one emission of a building's current task list. Err is set
// when the underlying feed failed; Tasks is nil in that case.
type TaskSnapshot struct {
	BuildingID uuid.UUID
	Tasks      []Task
	Err        error
}

// TaskStreamer provides a live feed of task-list snapshots for a building.
// The feed emits whenever the building's raw task data changes and closes
// when the context is canceled.
type TaskStreamer interface {
	StreamTasks(ctx context.Context, buildingID uuid.UUID) (<-chan TaskSnapshot, error)
}
