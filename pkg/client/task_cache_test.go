package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
)

type fakeLister struct {
	mu    sync.Mutex
	tasks []task.Task
	calls int
	hook  func()
}

func (f *fakeLister) ListTasks(context.Context) ([]task.Task, error) {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	out := append([]task.Task(nil), f.tasks...)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func appendTask(text string) func([]task.Task) []task.Task {
	return func(tasks []task.Task) []task.Task {
		return append(tasks, task.Task{ID: "optimistic-" + text, Text: text})
	}
}

func TestMutateAppliesOptimisticallyThenReconciles(t *testing.T) {
	api := &fakeLister{tasks: []task.Task{{ID: "t1", Text: "buy milk"}}}
	cache := NewTaskCache(api)
	ctx := context.Background()

	err := cache.Mutate(ctx, appendTask("buy milk"), func(context.Context) error {
		got := cache.Tasks()
		require.Len(t, got, 1)
		assert.Equal(t, "optimistic-buy milk", got[0].ID)
		assert.Equal(t, 1, cache.Pending())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, "t1", cache.Tasks()[0].ID)
	assert.Zero(t, cache.Pending())
}

func TestOverlappingMutationsRefetchOnce(t *testing.T) {
	api := &fakeLister{}
	cache := NewTaskCache(api)
	ctx := context.Background()

	inner := make(chan struct{})
	outerDone := make(chan error, 1)
	go func() {
		outerDone <- cache.Mutate(ctx, appendTask("a"), func(context.Context) error {
			<-inner
			return nil
		})
	}()

	require.Eventually(t, func() bool { return cache.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	err := cache.Mutate(ctx, appendTask("b"), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, api.callCount(), "no refetch while another mutation is in flight")
	assert.Len(t, cache.Tasks(), 2)

	close(inner)
	require.NoError(t, <-outerDone)
	assert.Equal(t, 1, api.callCount())
	assert.Empty(t, cache.Tasks())
}

func TestFailedMutationStillReconciles(t *testing.T) {
	api := &fakeLister{tasks: []task.Task{{ID: "t1"}}}
	cache := NewTaskCache(api)

	boom := errors.New("boom")
	err := cache.Mutate(context.Background(), appendTask("x"), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []task.Task{{ID: "t1"}}, cache.Tasks())
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	api := &fakeLister{tasks: []task.Task{{ID: "server"}}}
	cache := NewTaskCache(api)
	ctx := context.Background()

	// A mutation starts while the refresh is in flight.
	api.hook = func() {
		api.mu.Lock()
		api.hook = nil
		api.mu.Unlock()
		cache.mu.Lock()
		cache.generation++
		cache.mu.Unlock()
	}
	require.NoError(t, cache.Refresh(ctx))
	assert.Empty(t, cache.Tasks())

	require.NoError(t, cache.Refresh(ctx))
	assert.Len(t, cache.Tasks(), 1)
}

func TestAffectsTasks(t *testing.T) {
	ok, failed := true, false
	assert.True(t, AffectsTasks(chat.Event{Type: chat.EventToolResult, Name: "deleteTask", Success: &ok}))
	assert.False(t, AffectsTasks(chat.Event{Type: chat.EventToolResult, Name: "deleteTask", Success: &failed}))
	assert.False(t, AffectsTasks(chat.Event{Type: chat.EventToolResult, Name: "listTasks", Success: &ok}))
	assert.False(t, AffectsTasks(chat.Event{Type: chat.EventToolCall, Name: "addTask"}))
}
