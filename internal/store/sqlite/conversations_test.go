package sqlite_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

func TestConversationStoreSessions(t *testing.T) {
	store := openDB(t).Conversations()
	ctx := context.Background()

	_, err := store.GetSession(ctx, "chat-1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	created, err := store.CreateSession(ctx, chat.Session{ID: "chat-1", OwnerID: "alice", Title: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, chat.VisibilityPrivate, created.Visibility)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = store.CreateSession(ctx, chat.Session{ID: "chat-1", OwnerID: "bob"})
	assert.ErrorIs(t, err, chat.ErrSessionExists)

	got, err := store.GetSession(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestConversationStoreMessages(t *testing.T) {
	store := openDB(t).Conversations()
	ctx := context.Background()
	base := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

	err := store.AppendMessages(ctx, "missing", []chat.Message{{ID: "m0", Role: chat.RoleUser}})
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	_, err = store.CreateSession(ctx, chat.Session{ID: "chat-1", OwnerID: "alice", Title: "t"})
	require.NoError(t, err)

	ok := true
	user := chat.Message{
		ID:          "m1",
		Role:        chat.RoleUser,
		Parts:       []chat.Part{{Type: chat.PartText, Text: "list my tasks"}},
		Attachments: []chat.Attachment{{Name: "a.png", URL: "https://files/a.png", ContentType: "image/png"}},
		CreatedAt:   base,
	}
	assistant := chat.Message{
		ID:   "m2",
		Role: chat.RoleAssistant,
		Parts: []chat.Part{
			{Type: chat.PartToolCall, ToolCallID: "c1", ToolName: "listTasks", Arguments: json.RawMessage(`{}`)},
			{Type: chat.PartToolResult, ToolCallID: "c1", ToolName: "listTasks", Success: &ok, Message: "You have 0 tasks."},
			{Type: chat.PartText, Text: "Nothing yet."},
		},
		CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, store.AppendMessages(ctx, "chat-1", []chat.Message{assistant, user}))

	replayed := user
	replayed.Parts = []chat.Part{{Type: chat.PartText, Text: "changed"}}
	require.NoError(t, store.AppendMessages(ctx, "chat-1", []chat.Message{replayed}))

	messages, err := store.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "list my tasks", messages[0].Text())
	assert.Equal(t, user.Attachments, messages[0].Attachments)
	assert.Equal(t, "chat-1", messages[1].ChatID)
	assert.Equal(t, assistant.Parts, messages[1].Parts)
	assert.Empty(t, messages[1].Attachments)
}

func TestConversationStoreRejectsMessageIDOfAnotherSession(t *testing.T) {
	store := openDB(t).Conversations()
	ctx := context.Background()
	for _, id := range []string{"chat-1", "chat-2"} {
		_, err := store.CreateSession(ctx, chat.Session{ID: id, OwnerID: "alice", Title: "t"})
		require.NoError(t, err)
	}

	require.NoError(t, store.AppendMessages(ctx, "chat-1", []chat.Message{{ID: "m1", Role: chat.RoleUser}}))

	err := store.AppendMessages(ctx, "chat-2", []chat.Message{{ID: "m2", Role: chat.RoleUser}, {ID: "m1", Role: chat.RoleUser}})
	assert.ErrorIs(t, err, chat.ErrMessageConflict)

	messages, err := store.ListMessages(ctx, "chat-2")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestConversationStoreDeleteSessionCascades(t *testing.T) {
	db := openDB(t)
	store := db.Conversations()
	events := db.Events()
	ctx := context.Background()

	_, err := store.CreateSession(ctx, chat.Session{ID: "chat-1", OwnerID: "alice", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, "chat-1", []chat.Message{{ID: "m1", Role: chat.RoleUser}}))
	require.NoError(t, events.CreateStream(ctx, chat.StreamRecord{StreamID: "s1", ChatID: "chat-1", CreatedAt: time.Now()}))
	require.NoError(t, events.Append(ctx, "s1", chat.Event{Seq: 1, Type: chat.EventDone}))

	deleted, err := store.DeleteSession(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", deleted.OwnerID)

	_, err = store.GetSession(ctx, "chat-1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = store.ListMessages(ctx, "chat-1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = events.GetStream(ctx, "s1")
	assert.ErrorIs(t, err, chat.ErrStreamNotFound)

	_, err = store.DeleteSession(ctx, "chat-1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	// A deleted message id may be stored again.
	_, err = store.CreateSession(ctx, chat.Session{ID: "chat-1", OwnerID: "alice", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, "chat-1", []chat.Message{{ID: "m1", Role: chat.RoleUser}}))
	messages, err := store.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}
