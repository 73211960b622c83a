package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// Reader yields the events of one stream in Seq order. Next returns io.EOF
// once the stream has ended and every event was delivered.
type Reader interface {
	Next(ctx context.Context) (chat.Event, error)
	Close() error
}

// liveReader is the unbounded queue feeding the request that started a turn.
// The producer never blocks on it; once closed, pushes are discarded.
type liveReader struct {
	mu       sync.Mutex
	queue    []chat.Event
	finished bool
	closed   bool
	signal   chan struct{}
}

func newLiveReader() *liveReader {
	return &liveReader{signal: make(chan struct{}, 1)}
}

func (r *liveReader) push(ev chat.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	r.wake()
}

func (r *liveReader) finish() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	r.wake()
}

func (r *liveReader) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *liveReader) Next(ctx context.Context) (chat.Event, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return chat.Event{}, io.ErrClosedPipe
		}
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return ev, nil
		}
		if r.finished {
			r.mu.Unlock()
			return chat.Event{}, io.EOF
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return chat.Event{}, ctx.Err()
		case <-r.signal:
		}
	}
}

func (r *liveReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()
	r.wake()
	return nil
}

// logReader replays a stream from the event log and follows it until the
// terminal event.
type logReader struct {
	broker *Broker
	record chat.StreamRecord
	after  int64
	buf    []chat.Event
	done   bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (r *logReader) Next(ctx context.Context) (chat.Event, error) {
	b := r.broker
	for {
		if len(r.buf) > 0 {
			ev := r.buf[0]
			r.buf = r.buf[1:]
			r.after = ev.Seq
			if ev.Terminal() {
				r.done = true
				r.buf = nil
			}
			return ev, nil
		}
		if r.done {
			return chat.Event{}, io.EOF
		}

		// Observe before reading so an append between the two wakes us.
		changed, running := b.observe(r.record.StreamID)

		events, err := b.log.ReadAfter(ctx, r.record.StreamID, r.after)
		if err != nil {
			return chat.Event{}, err
		}
		if len(events) > 0 {
			r.buf = events
			continue
		}
		if !running {
			ended, err := r.endedAt(ctx)
			if err != nil {
				return chat.Event{}, err
			}
			if ended || b.now().Sub(r.record.CreatedAt) > b.staleAfter {
				r.done = true
				return chat.Event{}, io.EOF
			}
		}

		if running {
			select {
			case <-ctx.Done():
				return chat.Event{}, ctx.Err()
			case <-r.closed:
				return chat.Event{}, io.ErrClosedPipe
			case <-changed:
			}
			continue
		}

		timer := time.NewTimer(b.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return chat.Event{}, ctx.Err()
		case <-r.closed:
			timer.Stop()
			return chat.Event{}, io.ErrClosedPipe
		case <-timer.C:
		}
	}
}

// endedAt reports whether the logged stream already ended at or before the
// read position, which happens when a reader resumes after the last event.
func (r *logReader) endedAt(ctx context.Context) (bool, error) {
	if r.after == 0 {
		return false, nil
	}
	events, err := r.broker.log.ReadAfter(ctx, r.record.StreamID, 0)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	last := events[len(events)-1]
	return last.Terminal() && last.Seq <= r.after, nil
}

func (r *logReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
