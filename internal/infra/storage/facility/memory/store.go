// Package memory provides an in-memory facility store for tests and local
// development. It implements both the read port and the live task stream;
// task mutations notify every open stream with a fresh snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avolric/crewsight/internal/domain/facility"
)

// taskStreamBuffer is the per-stream delivery buffer. A slow observer misses
// intermediate snapshots; every emission carries the full current list, so
// the next change resynchronizes it.
const taskStreamBuffer = 8

var (
	_ facility.Store        = (*Store)(nil)
	_ facility.TaskStreamer = (*Store)(nil)
)

type assignment struct {
	workerID   uuid.UUID
	buildingID uuid.UUID
}

type clockEntry struct {
	workerID   uuid.UUID
	buildingID uuid.UUID
	clockInAt  time.Time
	clockOutAt *time.Time
}

// Store holds all facility data in process memory.
type Store struct {
	mu           sync.RWMutex
	buildings    map[uuid.UUID]facility.Building
	workers      map[uuid.UUID]facility.Worker
	assignments  []assignment
	clockEntries []clockEntry
	tasks        map[uuid.UUID]facility.Task

	streamMu sync.Mutex
	streams  map[uuid.UUID]map[uuid.UUID]chan facility.TaskSnapshot
}

// NewStore creates an empty in-memory facility store.
func NewStore() *Store {
	return &Store{
		buildings: make(map[uuid.UUID]facility.Building),
		workers:   make(map[uuid.UUID]facility.Worker),
		tasks:     make(map[uuid.UUID]facility.Task),
		streams:   make(map[uuid.UUID]map[uuid.UUID]chan facility.TaskSnapshot),
	}
}

// AddBuilding registers a building, replacing any previous entry with the
// same ID.
func (s *Store) AddBuilding(b facility.Building) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildings[b.ID] = b
}

// AddWorker registers a worker, replacing any previous entry with the same ID.
func (s *Store) AddWorker(w facility.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
}

// AssignWorker records an active assignment of a worker to a building.
func (s *Store) AssignWorker(workerID, buildingID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, assignment{workerID: workerID, buildingID: buildingID})
}

// ClockIn records the start of a worker's shift at a building.
func (s *Store) ClockIn(workerID, buildingID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockEntries = append(s.clockEntries, clockEntry{
		workerID:   workerID,
		buildingID: buildingID,
		clockInAt:  at,
	})
}

// ClockOut closes the worker's most recent open shift at the building, if
// one exists.
func (s *Store) ClockOut(workerID, buildingID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.clockEntries) - 1; i >= 0; i-- {
		e := &s.clockEntries[i]
		if e.workerID == workerID && e.buildingID == buildingID && e.clockOutAt == nil {
			out := at
			e.clockOutAt = &out
			return
		}
	}
}

// UpsertTask inserts or replaces a task and notifies the building's open
// task streams.
func (s *Store) UpsertTask(t facility.Task) {
	s.mu.Lock()
	s.tasks[t.ID] = copyTask(t)
	snapshot := s.buildingTasksLocked(t.BuildingID)
	s.mu.Unlock()

	s.notifyTaskChange(t.BuildingID, snapshot)
}

// CompleteTask marks the task completed at the given time and notifies the
// building's open task streams.
func (s *Store) CompleteTask(taskID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("complete task %s: %w", taskID, facility.ErrTaskNotFound)
	}
	completedAt := at
	t.Status = facility.TaskStatusCompleted
	t.CompletedAt = &completedAt
	s.tasks[taskID] = t
	snapshot := s.buildingTasksLocked(t.BuildingID)
	s.mu.Unlock()

	s.notifyTaskChange(t.BuildingID, snapshot)
	return nil
}

// GetAllBuildings returns every building, ordered by name.
func (s *Store) GetAllBuildings(ctx context.Context) ([]facility.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]facility.Building, 0, len(s.buildings))
	for _, b := range s.buildings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CountBuildings returns the number of registered buildings.
func (s *Store) CountBuildings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buildings), nil
}

// TasksScheduledOn returns copies of the building's tasks scheduled on the
// given day.
func (s *Store) TasksScheduledOn(ctx context.Context, buildingID uuid.UUID, day time.Time) ([]facility.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []facility.Task
	for _, t := range s.tasks {
		if t.BuildingID == buildingID && t.ScheduledOn(day) {
			out = append(out, copyTask(t))
		}
	}
	return out, nil
}

// WorkerPresence returns worker coverage for the building on the given day.
func (s *Store) WorkerPresence(ctx context.Context, buildingID uuid.UUID, day time.Time) (facility.WorkerPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for _, a := range s.assignments {
		if a.buildingID != buildingID {
			continue
		}
		if w, ok := s.workers[a.workerID]; ok && w.Active {
			seen[a.workerID] = struct{}{}
		}
	}

	onSite := false
	for _, e := range s.clockEntries {
		if e.buildingID == buildingID && e.clockOutAt == nil && sameDay(e.clockInAt, day) {
			onSite = true
			break
		}
	}

	return facility.WorkerPresence{ActiveWorkers: len(seen), OnSite: onSite}, nil
}

// MaintenanceStats returns maintenance task throughput for the building
// since the given time.
func (s *Store) MaintenanceStats(ctx context.Context, buildingID uuid.UUID, since time.Time) (facility.MaintenanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats facility.MaintenanceStats
	for _, t := range s.tasks {
		if t.BuildingID != buildingID || t.Category != facility.TaskCategoryMaintenance {
			continue
		}
		if t.ScheduledAt.Before(since) {
			continue
		}
		stats.Scheduled++
		if t.Completed() {
			stats.Completed++
		}
	}
	return stats, nil
}

// DailyCompletionCounts returns per-day completion totals over the trailing
// number of days, oldest first. Days without completions are omitted.
func (s *Store) DailyCompletionCounts(ctx context.Context, buildingID uuid.UUID, days int) ([]facility.DailyCompletionCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	windowStart := startOfDay(time.Now().UTC().AddDate(0, 0, -(days - 1)))

	byDay := make(map[time.Time]int)
	for _, t := range s.tasks {
		if t.BuildingID != buildingID || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(windowStart) {
			continue
		}
		byDay[startOfDay(*t.CompletedAt)]++
	}

	out := make([]facility.DailyCompletionCount, 0, len(byDay))
	for day, completed := range byDay {
		out = append(out, facility.DailyCompletionCount{Day: day, Completed: completed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// LastActivityAt returns the most recent task completion or clock event at
// the building. Returns ErrNoActivity when the building has none.
func (s *Store) LastActivityAt(ctx context.Context, buildingID uuid.UUID) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, t := range s.tasks {
		if t.BuildingID == buildingID && t.CompletedAt != nil && t.CompletedAt.After(last) {
			last = *t.CompletedAt
		}
	}
	for _, e := range s.clockEntries {
		if e.buildingID != buildingID {
			continue
		}
		if e.clockInAt.After(last) {
			last = e.clockInAt
		}
		if e.clockOutAt != nil && e.clockOutAt.After(last) {
			last = *e.clockOutAt
		}
	}

	if last.IsZero() {
		return time.Time{}, facility.ErrNoActivity
	}
	return last, nil
}

// StreamTasks opens a live feed of the building's task list. The stream
// starts with one snapshot of the current list, emits on every change, and
// closes when the context is canceled.
func (s *Store) StreamTasks(ctx context.Context, buildingID uuid.UUID) (<-chan facility.TaskSnapshot, error) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.RLock()
	initial := s.buildingTasksLocked(buildingID)
	s.mu.RUnlock()

	id := uuid.New()
	ch := make(chan facility.TaskSnapshot, taskStreamBuffer)
	if s.streams[buildingID] == nil {
		s.streams[buildingID] = make(map[uuid.UUID]chan facility.TaskSnapshot)
	}
	s.streams[buildingID][id] = ch
	ch <- facility.TaskSnapshot{BuildingID: buildingID, Tasks: initial}

	go func() {
		<-ctx.Done()
		s.streamMu.Lock()
		defer s.streamMu.Unlock()
		if _, ok := s.streams[buildingID][id]; ok {
			delete(s.streams[buildingID], id)
			close(ch)
		}
	}()

	return ch, nil
}

// notifyTaskChange fans a fresh snapshot out to the building's open streams
// without blocking on full buffers.
func (s *Store) notifyTaskChange(buildingID uuid.UUID, tasks []facility.Task) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	snapshot := facility.TaskSnapshot{BuildingID: buildingID, Tasks: tasks}
	for _, ch := range s.streams[buildingID] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (s *Store) buildingTasksLocked(buildingID uuid.UUID) []facility.Task {
	var out []facility.Task
	for _, t := range s.tasks {
		if t.BuildingID == buildingID {
			out = append(out, copyTask(t))
		}
	}
	return out
}

func copyTask(t facility.Task) facility.Task {
	if t.DueAt != nil {
		due := *t.DueAt
		t.DueAt = &due
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		t.CompletedAt = &completed
	}
	return t
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
