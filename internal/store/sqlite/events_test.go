package sqlite_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/service/stream"
)

func TestEventLogReadAfter(t *testing.T) {
	log := openDB(t).Events()
	ctx := context.Background()
	created := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

	err := log.Append(ctx, "missing", chat.Event{Seq: 1, Type: chat.EventDone})
	assert.ErrorIs(t, err, chat.ErrStreamNotFound)

	require.NoError(t, log.CreateStream(ctx, chat.StreamRecord{StreamID: "s1", ChatID: "chat-1", CreatedAt: created}))
	require.Error(t, log.CreateStream(ctx, chat.StreamRecord{StreamID: "s1", ChatID: "chat-1", CreatedAt: created}))

	require.NoError(t, log.Append(ctx, "s1", chat.Event{Seq: 1, Type: chat.EventStart, MessageID: "a1"}))
	require.Error(t, log.Append(ctx, "s1", chat.Event{Seq: 1, Type: chat.EventDone}), "seq is unique per stream")

	for i, word := range []string{"hi ", "there"} {
		ev := chat.TextDelta(word)
		ev.Seq = int64(i + 2)
		require.NoError(t, log.Append(ctx, "s1", ev))
	}

	events, err := log.ReadAfter(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a1", events[0].MessageID)

	events, err = log.ReadAfter(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "there", events[0].Content)
	assert.Equal(t, int64(3), events[0].Seq)

	events, err = log.ReadAfter(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLogLatestAndEvict(t *testing.T) {
	log := openDB(t).Events()
	ctx := context.Background()
	base := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

	require.NoError(t, log.CreateStream(ctx, chat.StreamRecord{StreamID: "old", ChatID: "chat-1", CreatedAt: base}))
	require.NoError(t, log.CreateStream(ctx, chat.StreamRecord{StreamID: "new", ChatID: "chat-1", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, log.Append(ctx, "old", chat.Event{Seq: 1, Type: chat.EventDone}))

	latest, err := log.LatestStream(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.StreamID)
	assert.True(t, latest.CreatedAt.Equal(base.Add(time.Minute)))

	_, err = log.LatestStream(ctx, "chat-2")
	assert.ErrorIs(t, err, chat.ErrStreamNotFound)

	n, err := log.Evict(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = log.GetStream(ctx, "old")
	assert.ErrorIs(t, err, chat.ErrStreamNotFound)
	events, err := log.ReadAfter(ctx, "old", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBrokerResumesFromSQLiteLog(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	broker := stream.NewBroker(db.Events(),
		stream.WithLogger(zaptest.NewLogger(t)),
		stream.WithPollInterval(10*time.Millisecond),
	)
	t.Cleanup(broker.Wait)

	release := make(chan struct{})
	produce := func(_ context.Context, emit func(chat.Event)) {
		emit(chat.Event{Type: chat.EventStart, MessageID: "a1"})
		emit(chat.TextDelta("Task "))
		<-release
		emit(chat.TextDelta("added."))
		emit(chat.Done())
	}
	finished := make(chan []chat.Event, 1)
	finish := func(_ context.Context, _ chat.StreamRecord, events []chat.Event) { finished <- events }

	record, live, err := broker.Start(ctx, "chat-1", produce, finish)
	require.NoError(t, err)

	first, err := live.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	require.NoError(t, live.Close())

	_, resumed, err := broker.Resume(ctx, record.StreamID, 1)
	require.NoError(t, err)
	defer resumed.Close()
	close(release)

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var got []chat.Event
	for {
		ev, err := resumed.Next(readCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, chat.EventDone, got[2].Type)

	all := <-finished
	assert.Len(t, all, 4)
}
