package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FeedCapacity is the number of entries each audience's live feed retains.
const FeedCapacity = 10

// FeedBuffer is a fixed-capacity FIFO of recent feed entries. Appending
// beyond capacity silently evicts the oldest entry. It is safe for
// concurrent use.
type FeedBuffer[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
}

// NewFeedBuffer creates a buffer retaining at most capacity entries.
func NewFeedBuffer[T any](capacity int) *FeedBuffer[T] {
	return &FeedBuffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest when the buffer is full.
func (b *FeedBuffer[T]) Append(entry T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries[len(b.entries)-1] = entry
		return
	}
	b.entries = append(b.entries, entry)
}

// Entries returns a copy of the buffer's contents, oldest first.
func (b *FeedBuffer[T]) Entries() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered entries.
func (b *FeedBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// WorkerActivity is the worker-facing live feed projection of an update.
type WorkerActivity struct {
	ID         uuid.UUID
	WorkerID   *uuid.UUID
	BuildingID *uuid.UUID
	Action     string
	OccurredAt time.Time
}

// NewWorkerActivity projects an update into a worker activity entry.
func NewWorkerActivity(u DashboardUpdate) WorkerActivity {
	return WorkerActivity{
		ID:         uuid.New(),
		WorkerID:   u.WorkerID(),
		BuildingID: u.BuildingID(),
		Action:     u.Description(),
		OccurredAt: time.Now().UTC(),
	}
}

// AdminAlert is the admin-facing live feed projection of an update, graded
// by severity.
type AdminAlert struct {
	ID         uuid.UUID
	BuildingID *uuid.UUID
	Severity   Severity
	Message    string
	OccurredAt time.Time
}

// NewAdminAlert projects an update into an admin alert, deriving severity
// from the payload figures.
func NewAdminAlert(u DashboardUpdate) AdminAlert {
	return AdminAlert{
		ID:         uuid.New(),
		BuildingID: u.BuildingID(),
		Severity:   AlertSeverity(u.Payload()),
		Message:    u.Description(),
		OccurredAt: time.Now().UTC(),
	}
}

// ClientMetric is the client-facing live feed projection of an update.
type ClientMetric struct {
	ID         uuid.UUID
	BuildingID *uuid.UUID
	Label      string
	Value      string
	OccurredAt time.Time
}

// NewClientMetric projects an update into a client metric entry.
func NewClientMetric(u DashboardUpdate) ClientMetric {
	label, value := u.Description(), ""
	switch p := u.Payload().(type) {
	case PortfolioUpdatedPayload:
		label, value = "buildings", fmt.Sprintf("%d", p.BuildingCount)
	case PerformanceChangedPayload:
		label, value = "score", fmt.Sprintf("%d", p.OverallScore)
	case IntelligenceGeneratedPayload:
		label, value = "avg score", fmt.Sprintf("%.1f", p.AverageScore)
	}

	return ClientMetric{
		ID:         uuid.New(),
		BuildingID: u.BuildingID(),
		Label:      label,
		Value:      value,
		OccurredAt: time.Now().UTC(),
	}
}
