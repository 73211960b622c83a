package task_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
)

func ptr(s string) *string { return &s }

func sampleTasks() []task.Task {
	base := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	return []task.Task{
		{ID: "a1", OwnerID: "u", Text: "Buy milk", Time: base},
		{ID: "b2", OwnerID: "u", Text: "Call mom", Time: base.Add(time.Hour)},
		{ID: "c3", OwnerID: "u", Text: "Buy MILK and eggs", Time: base.Add(2 * time.Hour)},
	}
}

func TestResolveByID(t *testing.T) {
	got, err := task.Resolve(ptr("b2"), sampleTasks())
	require.NoError(t, err)
	assert.Equal(t, "b2", got.ID)
}

func TestResolveBySubstringFirstMatchWins(t *testing.T) {
	got, err := task.Resolve(ptr("milk"), sampleTasks())
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	got, err = task.Resolve(ptr("EGGS"), sampleTasks())
	require.NoError(t, err)
	assert.Equal(t, "c3", got.ID)
}

func TestResolveByOrdinal(t *testing.T) {
	tasks := sampleTasks()
	for i := range tasks {
		got, err := task.Resolve(ptr(strconv.Itoa(i+1)), tasks)
		require.NoError(t, err)
		assert.Equal(t, tasks[i].ID, got.ID)
	}
}

func TestResolveOrdinalOutOfRange(t *testing.T) {
	for _, ref := range []string{"0", "4", "-1", "99"} {
		t.Run(ref, func(t *testing.T) {
			_, err := task.Resolve(ptr(ref), sampleTasks())
			require.Error(t, err)
			assert.True(t, errors.Is(err, task.ErrNotFound))
		})
	}
}

func TestResolveMissingIdentifierCarriesCandidates(t *testing.T) {
	tasks := sampleTasks()
	for _, ref := range []*string{nil, ptr(""), ptr("   ")} {
		_, err := task.Resolve(ref, tasks)
		require.ErrorIs(t, err, task.ErrMissingIdentifier)

		var resErr *task.ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Len(t, resErr.Candidates, len(tasks))
	}
}

func TestResolveDoesNotMutateCandidates(t *testing.T) {
	tasks := sampleTasks()
	before := append([]task.Task(nil), tasks...)
	_, _ = task.Resolve(ptr("call"), tasks)
	assert.Equal(t, before, tasks)
}

func TestPatchApply(t *testing.T) {
	done := true
	text := "Buy oat milk"
	got := task.Patch{Text: &text, Completed: &done}.Apply(sampleTasks()[0])
	assert.Equal(t, "Buy oat milk", got.Text)
	assert.True(t, got.Completed)
	assert.True(t, task.Patch{}.Empty())
}
