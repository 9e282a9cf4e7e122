// Package metrics defines the derived per-building metrics snapshot and the
// pure derivations that produce it from raw facility rows.
package metrics

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Neutral values used when the underlying data is insufficient to derive a
// figure. Insufficient data is not a failure.
const (
	// DefaultEfficiency is assumed when no maintenance was scheduled in the
	// trailing window.
	DefaultEfficiency = 0.85
	// DefaultTrend is assumed when fewer than two days of completions exist.
	DefaultTrend = 0.0
)

// BuildingMetrics is an immutable derived snapshot of one building's
// operational health. Instances are created through FromSnapshot or Empty and
// never mutated; pendingTasks and overallScore are always derived, never set.
type BuildingMetrics struct {
	buildingID     uuid.UUID
	completionRate float64
	totalTasks     int
	completedTasks int
	pendingTasks   int
	overdueTasks   int
	urgentTasks    int
	activeWorkers  int
	workerOnSite   bool
	compliant      bool
	efficiency     float64
	weeklyTrend    float64
	lastActivityAt *time.Time
	overallScore   int
	computedAt     time.Time
}

// Snapshot carries the raw figures a BuildingMetrics value is derived from.
type Snapshot struct {
	BuildingID     uuid.UUID
	TotalTasks     int
	CompletedTasks int
	OverdueTasks   int
	UrgentTasks    int
	ActiveWorkers  int
	WorkerOnSite   bool
	Efficiency     float64
	WeeklyTrend    float64
	LastActivityAt *time.Time
	ComputedAt     time.Time
}

// FromSnapshot derives a BuildingMetrics value from raw figures. Completion
// rate, pending count, compliance and the overall score are computed here so
// they can never drift from their inputs.
func FromSnapshot(s Snapshot) BuildingMetrics {
	rate := 0.0
	if s.TotalTasks > 0 {
		rate = float64(s.CompletedTasks) / float64(s.TotalTasks)
	}
	compliant := s.OverdueTasks == 0

	return BuildingMetrics{
		buildingID:     s.BuildingID,
		completionRate: rate,
		totalTasks:     s.TotalTasks,
		completedTasks: s.CompletedTasks,
		pendingTasks:   s.TotalTasks - s.CompletedTasks,
		overdueTasks:   s.OverdueTasks,
		urgentTasks:    s.UrgentTasks,
		activeWorkers:  s.ActiveWorkers,
		workerOnSite:   s.WorkerOnSite,
		compliant:      compliant,
		efficiency:     s.Efficiency,
		weeklyTrend:    s.WeeklyTrend,
		lastActivityAt: s.LastActivityAt,
		overallScore:   Score(rate, compliant, s.ActiveWorkers),
		computedAt:     s.ComputedAt,
	}
}

// Empty returns the neutral snapshot used when no data is available, such as
// when an observation stream fails.
func Empty(buildingID uuid.UUID, at time.Time) BuildingMetrics {
	return FromSnapshot(Snapshot{
		BuildingID:  buildingID,
		Efficiency:  DefaultEfficiency,
		WeeklyTrend: DefaultTrend,
		ComputedAt:  at,
	})
}

// Score computes the weighted overall score on a 0-100 scale: 60% task
// completion, 30% compliance, 10% worker presence.
func Score(completionRate float64, compliant bool, activeWorkers int) int {
	score := completionRate * 60
	if compliant {
		score += 30
	}
	if activeWorkers > 0 {
		score += 10
	}
	return int(math.Round(score))
}

// BuildingID returns the building this snapshot describes.
func (m BuildingMetrics) BuildingID() uuid.UUID { return m.buildingID }

// CompletionRate returns the fraction of today's tasks completed (0.0-1.0).
func (m BuildingMetrics) CompletionRate() float64 { return m.completionRate }

// TotalTasks returns the number of tasks scheduled today.
func (m BuildingMetrics) TotalTasks() int { return m.totalTasks }

// CompletedTasks returns the number of today's tasks completed.
func (m BuildingMetrics) CompletedTasks() int { return m.completedTasks }

// PendingTasks returns today's tasks not yet completed.
func (m BuildingMetrics) PendingTasks() int { return m.pendingTasks }

// OverdueTasks returns the number of tasks past their due time.
func (m BuildingMetrics) OverdueTasks() int { return m.overdueTasks }

// UrgentTasks returns the number of today's urgent-priority tasks.
func (m BuildingMetrics) UrgentTasks() int { return m.urgentTasks }

// ActiveWorkers returns the number of distinct active workers assigned.
func (m BuildingMetrics) ActiveWorkers() int { return m.activeWorkers }

// WorkerOnSite reports whether any worker has an open clock-in today.
func (m BuildingMetrics) WorkerOnSite() bool { return m.workerOnSite }

// Compliant reports whether the building has zero overdue tasks.
func (m BuildingMetrics) Compliant() bool { return m.compliant }

// Efficiency returns the maintenance completion ratio over the trailing
// 30 days.
func (m BuildingMetrics) Efficiency() float64 { return m.efficiency }

// WeeklyTrend returns the 7-day rolling daily-completion average.
func (m BuildingMetrics) WeeklyTrend() float64 { return m.weeklyTrend }

// LastActivityAt returns the most recent recorded activity, or nil when the
// building has none.
func (m BuildingMetrics) LastActivityAt() *time.Time { return m.lastActivityAt }

// OverallScore returns the weighted 0-100 health score.
func (m BuildingMetrics) OverallScore() int { return m.overallScore }

// ComputedAt returns when this snapshot was derived.
func (m BuildingMetrics) ComputedAt() time.Time { return m.computedAt }
