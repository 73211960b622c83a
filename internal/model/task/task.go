package task

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrEmptyText    = errors.New("task text must not be empty")
	ErrOwnerMissing = errors.New("task owner is required")
)

// Task is a scheduled to-do item owned by exactly one user.
type Task struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Patch lists the fields of an update; nil fields are left unchanged.
type Patch struct {
	Text      *string
	Completed *bool
	Time      *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.Time == nil
}

// Apply returns t with the patch fields written over it.
func (p Patch) Apply(t Task) Task {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Time != nil {
		t.Time = *p.Time
	}
	return t
}

// Store is the durable, owner-scoped task storage. Every operation touches
// only rows of the given owner; rows of other owners behave as missing.
type Store interface {
	// List returns the owner's tasks ordered by time, then creation order.
	List(ctx context.Context, ownerID string) ([]Task, error)
	Create(ctx context.Context, ownerID, text string, at time.Time) (Task, error)
	Update(ctx context.Context, id, ownerID string, patch Patch) (Task, error)
	// BulkUpdate sets the completion flag of every task of the owner.
	BulkUpdate(ctx context.Context, ownerID string, completed bool) (int, error)
	Delete(ctx context.Context, id, ownerID string) error
	// BulkDeleteCompleted removes the owner's completed tasks.
	BulkDeleteCompleted(ctx context.Context, ownerID string) (int, error)
}
