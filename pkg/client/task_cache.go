package client

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
)

// TaskLister fetches the authoritative task list.
type TaskLister interface {
	ListTasks(ctx context.Context) ([]task.Task, error)
}

// TaskCache holds the client's view of the task list. Mutations are applied
// optimistically; the list is refetched once when the last in-flight
// mutation settles, and a refetch that started before a newer mutation is
// discarded.
type TaskCache struct {
	api TaskLister

	mu         sync.Mutex
	tasks      []task.Task
	pending    int
	generation uint64
}

func NewTaskCache(api TaskLister) *TaskCache {
	return &TaskCache{api: api, tasks: []task.Task{}}
}

// Tasks returns a copy of the cached list.
func (c *TaskCache) Tasks() []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]task.Task(nil), c.tasks...)
}

// Pending reports the number of mutations still in flight.
func (c *TaskCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Refresh refetches the list unless a mutation is in flight.
func (c *TaskCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.pending > 0 {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.mu.Unlock()

	tasks, err := c.api.ListTasks(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen && c.pending == 0 {
		c.tasks = tasks
	}
	return nil
}

// Mutate applies optimistic to the cached list, runs call, and refetches
// when no other mutation is left in flight. The optimistic state is kept on
// failure; the refetch reconciles it.
func (c *TaskCache) Mutate(ctx context.Context, optimistic func([]task.Task) []task.Task, call func(ctx context.Context) error) error {
	c.mu.Lock()
	c.generation++
	c.pending++
	if optimistic != nil {
		c.tasks = optimistic(append([]task.Task(nil), c.tasks...))
	}
	c.mu.Unlock()

	callErr := call(ctx)

	c.mu.Lock()
	c.pending--
	settled := c.pending == 0
	c.mu.Unlock()

	if settled {
		if err := c.Refresh(ctx); err != nil && callErr == nil {
			return err
		}
	}
	return callErr
}

var mutatingTools = map[string]struct{}{
	"addTask":             {},
	"editTask":            {},
	"deleteTask":          {},
	"toggleAllTasks":      {},
	"clearCompletedTasks": {},
}

// AffectsTasks reports whether a stream event changed the task list on the
// server, in which case the cache should be refreshed.
func AffectsTasks(ev chat.Event) bool {
	if ev.Type != chat.EventToolResult || ev.Success == nil || !*ev.Success {
		return false
	}
	_, ok := mutatingTools[ev.Name]
	return ok
}
