package dashboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpdateKind identifies the category of a dashboard update. The set is
// closed; each kind has exactly one payload type.
type UpdateKind string

// The supported update kinds.
const (
	KindTaskCompleted         UpdateKind = "TaskCompleted"
	KindTaskStarted           UpdateKind = "TaskStarted"
	KindWorkerClockedIn       UpdateKind = "WorkerClockedIn"
	KindWorkerClockedOut      UpdateKind = "WorkerClockedOut"
	KindMetricsChanged        UpdateKind = "MetricsChanged"
	KindIntelligenceGenerated UpdateKind = "IntelligenceGenerated"
	KindComplianceChanged     UpdateKind = "ComplianceChanged"
	KindPortfolioUpdated      UpdateKind = "PortfolioUpdated"
	KindPerformanceChanged    UpdateKind = "PerformanceChanged"
)

// UpdatePayload is implemented by the per-kind payload types. Consumers
// recover the concrete payload with a type switch over the closed set.
type UpdatePayload interface {
	Kind() UpdateKind
}

// TaskCompletedPayload carries the details of a finished task.
type TaskCompletedPayload struct {
	BuildingID  uuid.UUID
	WorkerID    uuid.UUID
	TaskID      uuid.UUID
	TaskTitle   string
	CompletedAt time.Time
}

// Kind implements UpdatePayload.
func (TaskCompletedPayload) Kind() UpdateKind { return KindTaskCompleted }

// TaskStartedPayload carries the details of a task a worker picked up.
type TaskStartedPayload struct {
	BuildingID uuid.UUID
	WorkerID   uuid.UUID
	TaskID     uuid.UUID
	TaskTitle  string
	StartedAt  time.Time
}

// Kind implements UpdatePayload.
func (TaskStartedPayload) Kind() UpdateKind { return KindTaskStarted }

// WorkerClockedInPayload carries a worker's shift start.
type WorkerClockedInPayload struct {
	BuildingID  uuid.UUID
	WorkerID    uuid.UUID
	WorkerName  string
	ClockedInAt time.Time
}

// Kind implements UpdatePayload.
func (WorkerClockedInPayload) Kind() UpdateKind { return KindWorkerClockedIn }

// WorkerClockedOutPayload carries a worker's shift end.
type WorkerClockedOutPayload struct {
	BuildingID   uuid.UUID
	WorkerID     uuid.UUID
	WorkerName   string
	ClockedOutAt time.Time
	HoursWorked  float64
}

// Kind implements UpdatePayload.
func (WorkerClockedOutPayload) Kind() UpdateKind { return KindWorkerClockedOut }

// MetricsChangedPayload carries the headline figures of a recomputed
// building snapshot.
type MetricsChangedPayload struct {
	BuildingID     uuid.UUID
	CompletionRate float64
	OverdueTasks   int
	OverallScore   int
}

// Kind implements UpdatePayload.
func (MetricsChangedPayload) Kind() UpdateKind { return KindMetricsChanged }

// IntelligenceGeneratedPayload carries a portfolio-level intelligence
// summary.
type IntelligenceGeneratedPayload struct {
	Summary       string
	BuildingCount int
	AverageScore  float64
	GeneratedAt   time.Time
}

// Kind implements UpdatePayload.
func (IntelligenceGeneratedPayload) Kind() UpdateKind { return KindIntelligenceGenerated }

// ComplianceChangedPayload carries a building's compliance flip.
type ComplianceChangedPayload struct {
	BuildingID   uuid.UUID
	Compliant    bool
	OverdueTasks int
}

// Kind implements UpdatePayload.
func (ComplianceChangedPayload) Kind() UpdateKind { return KindComplianceChanged }

// PortfolioUpdatedPayload signals the building portfolio changed shape.
// AutoGenerated marks updates synthesized by the reconciliation loop rather
// than a user action.
type PortfolioUpdatedPayload struct {
	BuildingCount int
	AutoGenerated bool
}

// Kind implements UpdatePayload.
func (PortfolioUpdatedPayload) Kind() UpdateKind { return KindPortfolioUpdated }

// PerformanceChangedPayload carries a building's performance movement.
type PerformanceChangedPayload struct {
	BuildingID     uuid.UUID
	CompletionRate float64
	OverallScore   int
}

// Kind implements UpdatePayload.
func (PerformanceChangedPayload) Kind() UpdateKind { return KindPerformanceChanged }

// DashboardUpdate is an immutable event describing one mutation of the shared
// data set. It is created once by a producer, fanned out to subscribers, and
// never modified.
type DashboardUpdate struct {
	id          uuid.UUID
	origin      Audience
	kind        UpdateKind
	buildingID  *uuid.UUID
	workerID    *uuid.UUID
	payload     UpdatePayload
	occurredAt  time.Time
	description string
}

func newUpdate(origin Audience, payload UpdatePayload, buildingID, workerID *uuid.UUID, description string) DashboardUpdate {
	return DashboardUpdate{
		id:          uuid.New(),
		origin:      origin,
		kind:        payload.Kind(),
		buildingID:  buildingID,
		workerID:    workerID,
		payload:     payload,
		occurredAt:  time.Now().UTC(),
		description: description,
	}
}

// NewTaskCompletedUpdate builds an update for a finished task.
func NewTaskCompletedUpdate(origin Audience, p TaskCompletedPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, &p.WorkerID, fmt.Sprintf("Task %q completed", p.TaskTitle))
}

// NewTaskStartedUpdate builds an update for a task a worker picked up.
func NewTaskStartedUpdate(origin Audience, p TaskStartedPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, &p.WorkerID, fmt.Sprintf("Task %q started", p.TaskTitle))
}

// NewWorkerClockedInUpdate builds an update for a shift start.
func NewWorkerClockedInUpdate(origin Audience, p WorkerClockedInPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, &p.WorkerID, fmt.Sprintf("%s clocked in", p.WorkerName))
}

// NewWorkerClockedOutUpdate builds an update for a shift end.
func NewWorkerClockedOutUpdate(origin Audience, p WorkerClockedOutPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, &p.WorkerID, fmt.Sprintf("%s clocked out", p.WorkerName))
}

// NewMetricsChangedUpdate builds an update for a recomputed snapshot.
func NewMetricsChangedUpdate(origin Audience, p MetricsChangedPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, nil, fmt.Sprintf("Metrics changed (score %d)", p.OverallScore))
}

// NewIntelligenceGeneratedUpdate builds an update for a portfolio summary.
func NewIntelligenceGeneratedUpdate(origin Audience, p IntelligenceGeneratedPayload) DashboardUpdate {
	return newUpdate(origin, p, nil, nil, "Portfolio intelligence generated")
}

// NewComplianceChangedUpdate builds an update for a compliance flip.
func NewComplianceChangedUpdate(origin Audience, p ComplianceChangedPayload) DashboardUpdate {
	state := "non-compliant"
	if p.Compliant {
		state = "compliant"
	}
	return newUpdate(origin, p, &p.BuildingID, nil, fmt.Sprintf("Building now %s", state))
}

// NewPortfolioUpdatedUpdate builds an update for a portfolio shape change.
func NewPortfolioUpdatedUpdate(origin Audience, p PortfolioUpdatedPayload) DashboardUpdate {
	return newUpdate(origin, p, nil, nil, fmt.Sprintf("Portfolio now has %d buildings", p.BuildingCount))
}

// NewPerformanceChangedUpdate builds an update for a performance movement.
func NewPerformanceChangedUpdate(origin Audience, p PerformanceChangedPayload) DashboardUpdate {
	return newUpdate(origin, p, &p.BuildingID, nil, fmt.Sprintf("Performance changed (score %d)", p.OverallScore))
}

// ID returns the update's unique identifier.
func (u DashboardUpdate) ID() uuid.UUID { return u.id }

// Origin returns the audience the update originated from.
func (u DashboardUpdate) Origin() Audience { return u.origin }

// UpdateKind returns the update's kind.
func (u DashboardUpdate) UpdateKind() UpdateKind { return u.kind }

// BuildingID returns the affected building, or nil for portfolio-level
// updates.
func (u DashboardUpdate) BuildingID() *uuid.UUID { return u.buildingID }

// WorkerID returns the worker involved, or nil when no worker is.
func (u DashboardUpdate) WorkerID() *uuid.UUID { return u.workerID }

// Payload returns the kind-specific payload.
func (u DashboardUpdate) Payload() UpdatePayload { return u.payload }

// OccurredAt returns when the update was created.
func (u DashboardUpdate) OccurredAt() time.Time { return u.occurredAt }

// Description returns the human-readable summary of the update.
func (u DashboardUpdate) Description() string { return u.description }

// AlertSeverity grades an admin alert from the figures in the update's
// payload. Overdue volume dominates completion rate: critical above ten
// overdue tasks, high below half completion, medium otherwise.
func AlertSeverity(p UpdatePayload) Severity {
	var overdue int
	rate := 1.0

	switch v := p.(type) {
	case MetricsChangedPayload:
		overdue, rate = v.OverdueTasks, v.CompletionRate
	case ComplianceChangedPayload:
		overdue = v.OverdueTasks
	case PerformanceChangedPayload:
		rate = v.CompletionRate
	}

	switch {
	case overdue > 10:
		return SeverityCritical
	case rate < 0.5:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
