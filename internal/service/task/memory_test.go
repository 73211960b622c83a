package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-tasks/backend/internal/model/task"
	"github.com/zhouzirui/z-tasks/backend/internal/service/task"
)

func TestMemoryStoreListOrdersByTime(t *testing.T) {
	store := task.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

	_, err := store.Create(ctx, "u1", "later", base.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = store.Create(ctx, "u1", "first", base)
	require.NoError(t, err)
	_, err = store.Create(ctx, "u1", "same time, created after", base)
	require.NoError(t, err)
	_, err = store.Create(ctx, "u2", "someone else", base)
	require.NoError(t, err)

	tasks, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "first", tasks[0].Text)
	assert.Equal(t, "same time, created after", tasks[1].Text)
	assert.Equal(t, "later", tasks[2].Text)
}

func TestMemoryStoreRejectsEmptyText(t *testing.T) {
	store := task.NewMemoryStore()
	_, err := store.Create(context.Background(), "u1", "  ", time.Now())
	assert.ErrorIs(t, err, model.ErrEmptyText)
}

func TestMemoryStoreOwnerScoping(t *testing.T) {
	store := task.NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, "u1", "mine", time.Now())
	require.NoError(t, err)

	done := true
	_, err = store.Update(ctx, created.ID, "intruder", model.Patch{Completed: &done})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	assert.ErrorIs(t, store.Delete(ctx, created.ID, "intruder"), model.ErrTaskNotFound)

	n, err := store.BulkUpdate(ctx, "intruder", true)
	require.NoError(t, err)
	assert.Zero(t, n)

	tasks, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Completed)
}

func TestMemoryStoreBulkOperations(t *testing.T) {
	store := task.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	a, _ := store.Create(ctx, "u1", "a", now)
	_, _ = store.Create(ctx, "u1", "b", now.Add(time.Minute))

	done := true
	_, err := store.Update(ctx, a.ID, "u1", model.Patch{Completed: &done})
	require.NoError(t, err)

	n, err := store.BulkDeleteCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.BulkDeleteCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.BulkUpdate(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
