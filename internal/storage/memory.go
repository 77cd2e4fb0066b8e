package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cadence/internal/task"
)

// memoryStore is a dependency-free backend holding rows in process memory.
// It enforces the same (seriesID, instanceDate) uniqueness as sqlite so the
// engine's race handling can be exercised without a database file.
type memoryStore struct {
	mu    sync.Mutex
	tasks map[string]task.Task
	byKey map[string]string // seriesID+"\x00"+instanceDate -> task id
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		tasks: map[string]task.Task{},
		byKey: map[string]string{},
	}
}

func seriesKey(seriesID, instanceDate string) string {
	return seriesID + "\x00" + instanceDate
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) ListRecurringTasks(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.IsRecurring {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryStore) FindBySeriesKey(ctx context.Context, seriesID, instanceDate string) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[seriesKey(seriesID, instanceDate)]
	if !ok {
		return nil, nil
	}
	t := s.tasks[id]
	return &t, nil
}

func (s *memoryStore) InsertTask(ctx context.Context, t task.Task) (task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.RecurrenceSeriesID != "" && t.RecurrenceInstanceDate != "" {
		key := seriesKey(t.RecurrenceSeriesID, t.RecurrenceInstanceDate)
		if _, exists := s.byKey[key]; exists {
			return task.Task{}, ErrDuplicateInstance
		}
		s.byKey[key] = t.ID
	}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *memoryStore) UpdateTaskSeriesFields(ctx context.Context, taskID, seriesID, instanceDate string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	key := seriesKey(seriesID, instanceDate)
	if other, exists := s.byKey[key]; exists && other != taskID {
		return ErrDuplicateInstance
	}
	if t.RecurrenceSeriesID != "" && t.RecurrenceInstanceDate != "" {
		delete(s.byKey, seriesKey(t.RecurrenceSeriesID, t.RecurrenceInstanceDate))
	}
	t.RecurrenceSeriesID = seriesID
	t.RecurrenceInstanceDate = instanceDate
	s.byKey[key] = taskID
	s.tasks[taskID] = t
	return nil
}
