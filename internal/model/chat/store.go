package chat

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	// ErrMessageConflict is returned when a message id is already stored in
	// another session.
	ErrMessageConflict = errors.New("message id belongs to another session")
)

// Store is the durable home of sessions and their transcripts.
type Store interface {
	GetSession(ctx context.Context, id string) (Session, error)
	CreateSession(ctx context.Context, session Session) (Session, error)
	// AppendMessages stores messages in the given order. Messages whose id is
	// already stored in the same session are skipped, so replaying a
	// submission is harmless; an id stored in another session fails the whole
	// call with ErrMessageConflict.
	AppendMessages(ctx context.Context, chatID string, messages []Message) error
	// ListMessages returns the transcript ordered by createdAt, then insertion.
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	DeleteSession(ctx context.Context, id string) (Session, error)
}
