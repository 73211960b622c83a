package chat

import (
	"context"
	"errors"
	"time"
)

var ErrStreamNotFound = errors.New("stream not found")

// EventLog is the transient, append-only record of each stream's events,
// addressed by stream id. Records older than the retention window may be
// evicted at any time.
type EventLog interface {
	CreateStream(ctx context.Context, record StreamRecord) error
	Append(ctx context.Context, streamID string, event Event) error
	// ReadAfter returns the events with Seq > after in Seq order.
	ReadAfter(ctx context.Context, streamID string, after int64) ([]Event, error)
	GetStream(ctx context.Context, streamID string) (StreamRecord, error)
	// LatestStream returns the most recently created stream of a chat.
	LatestStream(ctx context.Context, chatID string) (StreamRecord, error)
	Evict(ctx context.Context, olderThan time.Time) (int, error)
}
