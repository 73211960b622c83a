package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
)

// TaskStore implements task.Store.
type TaskStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ task.Store = (*TaskStore)(nil)

const taskColumns = `id, owner_id, text, time, completed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t         task.Task
		at, since int64
		completed int
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Text, &at, &completed, &since); err != nil {
		return task.Task{}, err
	}
	t.Time = fromUnix(at)
	t.CreatedAt = fromUnix(since)
	t.Completed = completed != 0
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *TaskStore) List(ctx context.Context, ownerID string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY time, rowid`, ownerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tasks", goerr.V("owner", ownerID))
	}
	defer rows.Close()

	tasks := make([]task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Create(ctx context.Context, ownerID, text string, at time.Time) (task.Task, error) {
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
		Time:      fromUnix(toUnix(at)),
		CreatedAt: fromUnix(toUnix(s.now())),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Text, toUnix(t.Time), 0, toUnix(t.CreatedAt))
	if err != nil {
		return task.Task{}, goerr.Wrap(err, "failed to insert task", goerr.V("owner", ownerID))
	}
	return t, nil
}

func (s *TaskStore) Update(ctx context.Context, id, ownerID string, patch task.Patch) (task.Task, error) {
	if patch.Text != nil && strings.TrimSpace(*patch.Text) == "" {
		return task.Task{}, task.ErrEmptyText
	}

	var updated task.Task
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID))
		if errors.Is(err, sql.ErrNoRows) {
			return task.ErrTaskNotFound
		}
		if err != nil {
			return goerr.Wrap(err, "failed to load task", goerr.V("id", id))
		}

		updated = patch.Apply(current)
		updated.Time = fromUnix(toUnix(updated.Time))
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET text = ?, time = ?, completed = ? WHERE id = ? AND owner_id = ?`,
			updated.Text, toUnix(updated.Time), boolInt(updated.Completed), id, ownerID)
		if err != nil {
			return goerr.Wrap(err, "failed to update task", goerr.V("id", id))
		}
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	return updated, nil
}

func (s *TaskStore) BulkUpdate(ctx context.Context, ownerID string, completed bool) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ? WHERE owner_id = ?`, boolInt(completed), ownerID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to update tasks", goerr.V("owner", ownerID))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *TaskStore) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return goerr.Wrap(err, "failed to delete task", goerr.V("id", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to count deleted tasks")
	}
	if n == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

func (s *TaskStore) BulkDeleteCompleted(ctx context.Context, ownerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner_id = ? AND completed = 1`, ownerID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to clear completed tasks", goerr.V("owner", ownerID))
	}
	n, err := res.RowsAffected()
	return int(n), err
}
