// Package postgres provides the PostgreSQL-backed facility store. Reads go
// through span-wrapped pool queries; the live task stream rides the
// task_changes NOTIFY channel fed by a trigger on the tasks table.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/internal/domain/facility"
	"github.com/avolric/crewsight/internal/infra/storage"
)

// taskChangeChannel is the NOTIFY channel the tasks trigger publishes
// building IDs on.
const taskChangeChannel = "task_changes"

// taskStreamBuffer is the per-stream delivery buffer. Every emission carries
// the full current list, so a dropped snapshot is recovered by the next one.
const taskStreamBuffer = 8

// defaultDBAttributes defines standard OpenTelemetry attributes for database
// operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var (
	_ facility.Store        = (*facilityStore)(nil)
	_ facility.TaskStreamer = (*facilityStore)(nil)
)

// facilityStore implements the facility read port and task streamer on a
// pgx connection pool.
type facilityStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a PostgreSQL-backed facility store using the provided
// connection pool.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *facilityStore {
	return &facilityStore{pool: pool, tracer: tracer}
}

const getAllBuildingsQuery = `
SELECT id, name, address, client_name, active
FROM buildings
ORDER BY name`

// GetAllBuildings returns every building under management, ordered by name.
func (s *facilityStore) GetAllBuildings(ctx context.Context) ([]facility.Building, error) {
	var buildings []facility.Building
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_all_buildings", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, getAllBuildingsQuery)
		if err != nil {
			return fmt.Errorf("querying buildings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var b facility.Building
			if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.ClientName, &b.Active); err != nil {
				return fmt.Errorf("scanning building row: %w", err)
			}
			buildings = append(buildings, b)
		}
		return rows.Err()
	})
	return buildings, err
}

// CountBuildings returns the authoritative number of buildings.
func (s *facilityStore) CountBuildings(ctx context.Context) (int, error) {
	var count int
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.count_buildings", defaultDBAttributes, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM buildings`).Scan(&count); err != nil {
			return fmt.Errorf("counting buildings: %w", err)
		}
		return nil
	})
	return count, err
}

const tasksScheduledBetweenQuery = `
SELECT id, building_id, title, category, priority, status, scheduled_at, due_at, completed_at
FROM tasks
WHERE building_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
ORDER BY scheduled_at`

// TasksScheduledOn returns the building's tasks scheduled on the given day.
func (s *facilityStore) TasksScheduledOn(ctx context.Context, buildingID uuid.UUID, day time.Time) ([]facility.Task, error) {
	start := startOfDay(day)
	return s.tasksScheduledBetween(ctx, buildingID, start, start.AddDate(0, 0, 1))
}

func (s *facilityStore) tasksScheduledBetween(ctx context.Context, buildingID uuid.UUID, start, end time.Time) ([]facility.Task, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("building_id", buildingID.String()),
	)

	var tasks []facility.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tasks_scheduled_between", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, tasksScheduledBetweenQuery, buildingID, start, end)
		if err != nil {
			return fmt.Errorf("querying tasks: %w", err)
		}
		defer rows.Close()

		tasks, err = scanTasks(rows)
		return err
	})
	return tasks, err
}

const activeWorkersQuery = `
SELECT COUNT(DISTINCT a.worker_id)
FROM assignments a
JOIN workers w ON w.id = a.worker_id
WHERE a.building_id = $1 AND a.active AND w.active`

const openClockInQuery = `
SELECT EXISTS (
    SELECT 1 FROM clock_entries
    WHERE building_id = $1
      AND clock_out_at IS NULL
      AND clock_in_at >= $2 AND clock_in_at < $3
)`

// WorkerPresence returns worker coverage for the building on the given day.
func (s *facilityStore) WorkerPresence(ctx context.Context, buildingID uuid.UUID, day time.Time) (facility.WorkerPresence, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("building_id", buildingID.String()),
	)

	var presence facility.WorkerPresence
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.worker_presence", dbAttrs, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, activeWorkersQuery, buildingID).Scan(&presence.ActiveWorkers); err != nil {
			return fmt.Errorf("counting active workers: %w", err)
		}

		start := startOfDay(day)
		if err := s.pool.QueryRow(ctx, openClockInQuery, buildingID, start, start.AddDate(0, 0, 1)).Scan(&presence.OnSite); err != nil {
			return fmt.Errorf("checking open clock-ins: %w", err)
		}
		return nil
	})
	return presence, err
}

const maintenanceStatsQuery = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed')
FROM tasks
WHERE building_id = $1 AND category = 'maintenance' AND scheduled_at >= $2`

// MaintenanceStats returns maintenance task throughput for the building
// since the given time.
func (s *facilityStore) MaintenanceStats(ctx context.Context, buildingID uuid.UUID, since time.Time) (facility.MaintenanceStats, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("building_id", buildingID.String()),
	)

	var stats facility.MaintenanceStats
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.maintenance_stats", dbAttrs, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, maintenanceStatsQuery, buildingID, since).Scan(&stats.Scheduled, &stats.Completed); err != nil {
			return fmt.Errorf("querying maintenance stats: %w", err)
		}
		return nil
	})
	return stats, err
}

const dailyCompletionCountsQuery = `
SELECT date_trunc('day', completed_at AT TIME ZONE 'UTC'), COUNT(*)
FROM tasks
WHERE building_id = $1 AND completed_at IS NOT NULL AND completed_at >= $2
GROUP BY 1
ORDER BY 1`

// DailyCompletionCounts returns per-day completion totals over the trailing
// number of days, oldest first. Days without completions are omitted.
func (s *facilityStore) DailyCompletionCounts(ctx context.Context, buildingID uuid.UUID, days int) ([]facility.DailyCompletionCount, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("building_id", buildingID.String()),
		attribute.Int("days", days),
	)

	windowStart := startOfDay(time.Now().UTC().AddDate(0, 0, -(days - 1)))

	var counts []facility.DailyCompletionCount
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.daily_completion_counts", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, dailyCompletionCountsQuery, buildingID, windowStart)
		if err != nil {
			return fmt.Errorf("querying completion counts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var c facility.DailyCompletionCount
			if err := rows.Scan(&c.Day, &c.Completed); err != nil {
				return fmt.Errorf("scanning completion count row: %w", err)
			}
			counts = append(counts, c)
		}
		return rows.Err()
	})
	return counts, err
}

const lastActivityQuery = `
SELECT MAX(ts) FROM (
    SELECT MAX(completed_at) AS ts FROM tasks WHERE building_id = $1
    UNION ALL
    SELECT MAX(clock_in_at) FROM clock_entries WHERE building_id = $1
    UNION ALL
    SELECT MAX(clock_out_at) FROM clock_entries WHERE building_id = $1
) activity`

// LastActivityAt returns the most recent task completion or clock event at
// the building. Returns ErrNoActivity when the building has none.
func (s *facilityStore) LastActivityAt(ctx context.Context, buildingID uuid.UUID) (time.Time, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("building_id", buildingID.String()),
	)

	var last *time.Time
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.last_activity_at", dbAttrs, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, lastActivityQuery, buildingID).Scan(&last); err != nil {
			return fmt.Errorf("querying last activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return time.Time{}, facility.ErrNoActivity
	}
	return *last, nil
}

// StreamTasks opens a live feed of the building's task list. The stream
// starts with one snapshot of the current day's tasks, emits on every change
// notification for the building, and closes when the context is canceled or
// the listening connection fails.
func (s *facilityStore) StreamTasks(ctx context.Context, buildingID uuid.UUID) (<-chan facility.TaskSnapshot, error) {
	poolConn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	// The connection listens for the stream's whole lifetime; hijack it so
	// the pool never hands it to another caller.
	conn := poolConn.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+taskChangeChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listening on %s: %w", taskChangeChannel, err)
	}

	ch := make(chan facility.TaskSnapshot, taskStreamBuffer)
	go s.pumpTaskChanges(ctx, conn, buildingID, ch)
	return ch, nil
}

func (s *facilityStore) pumpTaskChanges(ctx context.Context, conn *pgx.Conn, buildingID uuid.UUID, ch chan<- facility.TaskSnapshot) {
	defer close(ch)
	defer func() { _ = conn.Close(context.Background()) }()

	emit := func() {
		day := startOfDay(time.Now().UTC())
		tasks, err := s.tasksScheduledBetween(ctx, buildingID, day, day.AddDate(0, 0, 1))
		snap := facility.TaskSnapshot{BuildingID: buildingID, Tasks: tasks, Err: err}
		if err != nil {
			snap.Tasks = nil
		}
		select {
		case ch <- snap:
		default:
		}
	}
	emit()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The listening connection broke; surface it once and end the
			// stream so the caller can reopen.
			select {
			case ch <- facility.TaskSnapshot{BuildingID: buildingID, Err: err}:
			default:
			}
			return
		}
		if notification.Payload != buildingID.String() {
			continue
		}
		emit()
	}
}

func scanTasks(rows pgx.Rows) ([]facility.Task, error) {
	var out []facility.Task
	for rows.Next() {
		var (
			t                          facility.Task
			category, priority, status string
		)
		err := rows.Scan(
			&t.ID, &t.BuildingID, &t.Title,
			&category, &priority, &status,
			&t.ScheduledAt, &t.DueAt, &t.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		t.Category = facility.TaskCategory(category)
		t.Priority = facility.TaskPriority(priority)
		t.Status = facility.TaskStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
