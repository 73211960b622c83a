// Package stream makes turn output resumable across client disconnects.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

var (
	ErrResumeUnavailable = goerr.New("stream resume is not available")
	ErrStreamNotFound    = chat.ErrStreamNotFound
)

const (
	defaultPollInterval = time.Second
	defaultStaleAfter   = 2 * time.Minute
)

// Producer generates the events of one turn.
type Producer func(ctx context.Context, emit func(chat.Event))

// Finisher receives every event of a completed turn, in order.
type Finisher func(ctx context.Context, record chat.StreamRecord, events []chat.Event)

// Broker runs turns detached from the request that started them, numbers
// their events and writes them through to the event log. Without a log it
// still delivers live output but cannot resume.
type Broker struct {
	log          chat.EventLog
	logger       *zap.Logger
	now          func() time.Time
	pollInterval time.Duration
	staleAfter   time.Duration

	mu     sync.Mutex
	active map[string]*watch
	wg     sync.WaitGroup
}

// watch broadcasts appends of one running stream. changed is closed and
// replaced on every event.
type watch struct {
	changed chan struct{}
}

// Option customises a Broker.
type Option func(*Broker)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithPollInterval sets how often a resumed reader re-reads the log while a
// stream that is not running in this process may still be growing.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithStaleAfter bounds how long a foreign stream is polled before a reader
// gives up on it.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

// NewBroker returns a broker writing to log. A nil log disables resume.
func NewBroker(log chat.EventLog, opts ...Option) *Broker {
	b := &Broker{
		log:          log,
		logger:       logging.Default(),
		now:          time.Now,
		pollInterval: defaultPollInterval,
		staleAfter:   defaultStaleAfter,
		active:       make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resumable reports whether streams can be resumed.
func (b *Broker) Resumable() bool {
	return b.log != nil
}

// Start runs produce in its own goroutine and returns the stream record plus
// the live reader for the caller. Cancelling ctx or closing the reader does
// not stop the turn; finish always runs once the producer returns.
func (b *Broker) Start(ctx context.Context, chatID string, produce Producer, finish Finisher) (chat.StreamRecord, Reader, error) {
	record := chat.StreamRecord{
		StreamID:  uuid.NewString(),
		ChatID:    chatID,
		CreatedAt: b.now().UTC(),
	}

	durable := b.log != nil
	if durable {
		if err := b.log.CreateStream(ctx, record); err != nil {
			b.logger.Warn("event log unavailable, stream will not be resumable",
				zap.String("stream_id", record.StreamID),
				zap.Error(err),
			)
			durable = false
		}
	}

	w := &watch{changed: make(chan struct{})}
	b.mu.Lock()
	b.active[record.StreamID] = w
	b.mu.Unlock()

	live := newLiveReader()
	run := &run{
		broker:  b,
		record:  record,
		watch:   w,
		live:    live,
		durable: durable,
		logger:  b.logger.With(zap.String("stream_id", record.StreamID), zap.String("chat_id", chatID)),
	}

	b.wg.Add(1)
	go run.execute(context.WithoutCancel(ctx), produce, finish)

	return record, live, nil
}

// Resume attaches to the log of a stream and replays events with Seq > after,
// following the stream until its terminal event.
func (b *Broker) Resume(ctx context.Context, streamID string, after int64) (chat.StreamRecord, Reader, error) {
	if b.log == nil {
		return chat.StreamRecord{}, nil, ErrResumeUnavailable
	}
	record, err := b.log.GetStream(ctx, streamID)
	if err != nil {
		return chat.StreamRecord{}, nil, err
	}
	return record, b.follow(record, after), nil
}

// ResumeLatest resumes the most recent stream of a chat.
func (b *Broker) ResumeLatest(ctx context.Context, chatID string, after int64) (chat.StreamRecord, Reader, error) {
	if b.log == nil {
		return chat.StreamRecord{}, nil, ErrResumeUnavailable
	}
	record, err := b.log.LatestStream(ctx, chatID)
	if err != nil {
		return chat.StreamRecord{}, nil, err
	}
	return record, b.follow(record, after), nil
}

// Evict drops logged streams older than the retention window.
func (b *Broker) Evict(ctx context.Context, retention time.Duration) (int, error) {
	if b.log == nil {
		return 0, nil
	}
	return b.log.Evict(ctx, b.now().Add(-retention))
}

// Wait blocks until every started turn has finished.
func (b *Broker) Wait() {
	b.wg.Wait()
}

// observe returns the channel signalling the next append of a stream running
// in this process, or false when the stream is not running here.
func (b *Broker) observe(streamID string) (<-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.active[streamID]
	if !ok {
		return nil, false
	}
	return w.changed, true
}

func (b *Broker) follow(record chat.StreamRecord, after int64) Reader {
	if after < 0 {
		after = 0
	}
	return &logReader{broker: b, record: record, after: after, closed: make(chan struct{})}
}

type run struct {
	broker  *Broker
	record  chat.StreamRecord
	watch   *watch
	live    *liveReader
	durable bool
	logger  *zap.Logger

	mu       sync.Mutex
	seq      int64
	events   []chat.Event
	terminal bool
}

func (r *run) execute(ctx context.Context, produce Producer, finish Finisher) {
	b := r.broker
	defer b.wg.Done()
	defer r.live.finish()
	defer func() {
		b.mu.Lock()
		delete(b.active, r.record.StreamID)
		close(r.watch.changed)
		b.mu.Unlock()
	}()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("turn producer panicked", zap.Any("panic", rec), zap.Stack("stack"))
				r.emit(ctx, chat.Failure(chat.FaultMessage))
			}
		}()
		produce(ctx, func(ev chat.Event) { r.emit(ctx, ev) })
	}()

	r.mu.Lock()
	if !r.terminal {
		r.mu.Unlock()
		r.logger.Warn("producer returned without a terminal event")
		r.emit(ctx, chat.Failure(chat.FaultMessage))
		r.mu.Lock()
	}
	events := append([]chat.Event(nil), r.events...)
	r.mu.Unlock()

	if finish != nil {
		finish(ctx, r.record, events)
	}
}

// emit numbers ev, writes it to the log, wakes resumed readers and hands it
// to the live reader. Events after the terminal one are dropped.
func (r *run) emit(ctx context.Context, ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		r.logger.Debug("dropping event after terminal", zap.String("type", string(ev.Type)))
		return
	}
	r.seq++
	ev.Seq = r.seq
	r.events = append(r.events, ev)
	r.terminal = ev.Terminal()

	if r.durable {
		if err := r.broker.log.Append(ctx, r.record.StreamID, ev); err != nil {
			r.logger.Warn("failed to append stream event, resume disabled for this stream",
				zap.Int64("seq", ev.Seq),
				zap.Error(err),
			)
			r.durable = false
		}
	}

	r.broker.mu.Lock()
	close(r.watch.changed)
	r.watch.changed = make(chan struct{})
	r.broker.mu.Unlock()

	r.live.push(ev)
}
