// Package facility defines the core entities of the operations domain
// (buildings, workers, tasks) and the persistence ports the metrics engine
// reads them through.
package facility

import (
	"time"

	"github.com/google/uuid"
)

// Building represents a managed property under an operations contract.
type Building struct {
	ID         uuid.UUID
	Name       string
	Address    string
	ClientName string
	Active     bool
}

// Worker represents a field worker who can be assigned to buildings.
type Worker struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

// TaskPriority indicates how urgently a task needs attention.
type TaskPriority string

// Supported task priorities.
const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Supported task statuses.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// TaskCategory classifies the kind of work a task represents. Maintenance
// tasks feed the efficiency figure; the other categories only count toward
// completion.
type TaskCategory string

// Supported task categories.
const (
	TaskCategoryGeneral     TaskCategory = "general"
	TaskCategoryCleaning    TaskCategory = "cleaning"
	TaskCategoryMaintenance TaskCategory = "maintenance"
	TaskCategoryInspection  TaskCategory = "inspection"
)

// Task is a unit of scheduled work at a building.
type Task struct {
	ID          uuid.UUID
	BuildingID  uuid.UUID
	Title       string
	Category    TaskCategory
	Priority    TaskPriority
	Status      TaskStatus
	ScheduledAt time.Time
	DueAt       *time.Time
	CompletedAt *time.Time
}

// Completed reports whether the task has been finished.
func (t Task) Completed() bool { return t.Status == TaskStatusCompleted }

// Overdue reports whether an incomplete task has missed its due time as of
// now. Tasks without a due time count as overdue once their scheduled time
// has passed within the same day.
func (t Task) Overdue(now time.Time) bool {
	if t.Completed() {
		return false
	}
	if t.DueAt != nil {
		return t.DueAt.Before(now)
	}
	return sameDay(t.ScheduledAt, now) && t.ScheduledAt.Before(now)
}

// ScheduledOn reports whether the task is scheduled on the given day.
func (t Task) ScheduledOn(day time.Time) bool { return sameDay(t.ScheduledAt, day) }

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// WorkerPresence summarizes worker coverage at a building for one day.
type WorkerPresence struct {
	// ActiveWorkers is the number of distinct active workers with an active
	// assignment to the building.
	ActiveWorkers int
	// OnSite is true when any assignment has an open clock-in for the day.
	OnSite bool
}

// MaintenanceStats summarizes maintenance task throughput over a window.
type MaintenanceStats struct {
	Scheduled int
	Completed int
}

// DailyCompletionCount is the number of tasks completed at a building on a
// single day.
type DailyCompletionCount struct {
	Day       time.Time
	Completed int
}
