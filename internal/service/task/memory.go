package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
)

// MemoryStore is an in-process task.Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]task.Task
	seq   map[string]int64
	next  int64
	now   func() time.Time
}

var _ task.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]task.Task),
		seq:   make(map[string]int64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// List returns the owner's tasks ordered by time, then creation order.
func (s *MemoryStore) List(_ context.Context, ownerID string) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, ownerID, text string, at time.Time) (task.Task, error) {
	if ownerID == "" {
		return task.Task{}, task.ErrOwnerMissing
	}
	if strings.TrimSpace(text) == "" {
		return task.Task{}, task.ErrEmptyText
	}

	t := task.Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Text:      text,
		Time:      at.UTC(),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.next++
	s.tasks[t.ID] = t
	s.seq[t.ID] = s.next
	s.mu.Unlock()

	return t, nil
}

func (s *MemoryStore) Update(_ context.Context, id, ownerID string, patch task.Patch) (task.Task, error) {
	if patch.Text != nil && strings.TrimSpace(*patch.Text) == "" {
		return task.Task{}, task.ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok || current.OwnerID != ownerID {
		return task.Task{}, task.ErrTaskNotFound
	}
	if patch.Time != nil {
		at := patch.Time.UTC()
		patch.Time = &at
	}
	updated := patch.Apply(current)
	s.tasks[id] = updated
	return updated, nil
}

func (s *MemoryStore) BulkUpdate(_ context.Context, ownerID string, completed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		t.Completed = completed
		s.tasks[id] = t
		n++
	}
	return n, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok || current.OwnerID != ownerID {
		return task.ErrTaskNotFound
	}
	delete(s.tasks, id)
	delete(s.seq, id)
	return nil
}

func (s *MemoryStore) BulkDeleteCompleted(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.OwnerID == ownerID && t.Completed {
			delete(s.tasks, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}
