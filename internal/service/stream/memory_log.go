package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// MemoryLog is an in-process chat.EventLog. It does not survive restarts.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string]*memoryStream
	next    int64
}

type memoryStream struct {
	record chat.StreamRecord
	order  int64
	events []chat.Event
}

var _ chat.EventLog = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string]*memoryStream)}
}

func (l *MemoryLog) CreateStream(_ context.Context, record chat.StreamRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[record.StreamID]; ok {
		return goerr.New("stream already exists", goerr.V("stream_id", record.StreamID))
	}
	l.next++
	l.streams[record.StreamID] = &memoryStream{record: record, order: l.next}
	return nil
}

func (l *MemoryLog) Append(_ context.Context, streamID string, event chat.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[streamID]
	if !ok {
		return goerr.Wrap(chat.ErrStreamNotFound, "append to unknown stream", goerr.V("stream_id", streamID))
	}
	if n := len(s.events); n > 0 && s.events[n-1].Seq >= event.Seq {
		return goerr.New("event sequence must increase",
			goerr.V("stream_id", streamID),
			goerr.V("seq", event.Seq),
		)
	}
	s.events = append(s.events, event)
	return nil
}

func (l *MemoryLog) ReadAfter(_ context.Context, streamID string, after int64) ([]chat.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.streams[streamID]
	if !ok {
		return nil, nil
	}
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > after })
	return append([]chat.Event(nil), s.events[i:]...), nil
}

func (l *MemoryLog) GetStream(_ context.Context, streamID string) (chat.StreamRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.streams[streamID]
	if !ok {
		return chat.StreamRecord{}, goerr.Wrap(chat.ErrStreamNotFound, "get stream", goerr.V("stream_id", streamID))
	}
	return s.record, nil
}

func (l *MemoryLog) LatestStream(_ context.Context, chatID string) (chat.StreamRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest *memoryStream
	for _, s := range l.streams {
		if s.record.ChatID != chatID {
			continue
		}
		if latest == nil || s.record.CreatedAt.After(latest.record.CreatedAt) ||
			(s.record.CreatedAt.Equal(latest.record.CreatedAt) && s.order > latest.order) {
			latest = s
		}
	}
	if latest == nil {
		return chat.StreamRecord{}, goerr.Wrap(chat.ErrStreamNotFound, "latest stream", goerr.V("chat_id", chatID))
	}
	return latest.record, nil
}

func (l *MemoryLog) Evict(_ context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, s := range l.streams {
		if s.record.CreatedAt.Before(olderThan) {
			delete(l.streams, id)
			n++
		}
	}
	return n, nil
}
