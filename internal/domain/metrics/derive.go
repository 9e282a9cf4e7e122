package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/avolric/crewsight/internal/domain/facility"
)

// TaskCounts aggregates one day's task figures for a building.
type TaskCounts struct {
	Total     int
	Completed int
	Overdue   int
	Urgent    int
}

// CountTasks derives today's task counts from raw task rows. Rows not
// scheduled on now's day are ignored so callers can pass unfiltered lists.
func CountTasks(tasks []facility.Task, now time.Time) TaskCounts {
	var c TaskCounts
	for _, t := range tasks {
		if !t.ScheduledOn(now) {
			continue
		}
		c.Total++
		if t.Completed() {
			c.Completed++
		}
		if t.Overdue(now) {
			c.Overdue++
		}
		if t.Priority == facility.TaskPriorityUrgent {
			c.Urgent++
		}
	}
	return c
}

// EfficiencyFrom computes the maintenance completion ratio from throughput
// stats, falling back to the neutral default when nothing was scheduled.
func EfficiencyFrom(stats facility.MaintenanceStats) float64 {
	if stats.Scheduled == 0 {
		return DefaultEfficiency
	}
	return float64(stats.Completed) / float64(stats.Scheduled)
}

// TrendFrom computes the rolling daily-completion average from per-day
// counts. Fewer than two data points yield the neutral default.
func TrendFrom(counts []facility.DailyCompletionCount) float64 {
	if len(counts) < 2 {
		return DefaultTrend
	}
	total := 0
	for _, c := range counts {
		total += c.Completed
	}
	return float64(total) / float64(len(counts))
}

// FromTasks derives a metrics snapshot synchronously from raw task rows.
// This is the live-observation path: it reflects the rows as given, with
// neutral values for the figures that need their own queries.
func FromTasks(buildingID uuid.UUID, tasks []facility.Task, now time.Time) BuildingMetrics {
	counts := CountTasks(tasks, now)
	return FromSnapshot(Snapshot{
		BuildingID:     buildingID,
		TotalTasks:     counts.Total,
		CompletedTasks: counts.Completed,
		OverdueTasks:   counts.Overdue,
		UrgentTasks:    counts.Urgent,
		Efficiency:     DefaultEfficiency,
		WeeklyTrend:    DefaultTrend,
		ComputedAt:     now,
	})
}
