package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// MemoryStore keeps sessions and transcripts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	ids      map[string]string
	now      func() time.Time
}

var _ chat.Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		ids:      make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession stores a new session. The id is chosen by the client.
func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) (chat.Session, error) {
	if session.ID == "" {
		return chat.Session{}, goerr.New("session id is required")
	}
	if session.Visibility == "" {
		session.Visibility = chat.VisibilityPrivate
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return chat.Session{}, goerr.Wrap(chat.ErrSessionExists, "create session", goerr.V("chat_id", session.ID))
	}
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return session, nil
}

// AppendMessages adds messages to the transcript, skipping ids already stored.
func (s *MemoryStore) AppendMessages(_ context.Context, chatID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[chatID]; !ok {
		return chat.ErrSessionNotFound
	}

	for _, message := range messages {
		if owner, dup := s.ids[message.ID]; dup && owner != chatID {
			return goerr.Wrap(chat.ErrMessageConflict, "message stored in another session", goerr.V("message_id", message.ID))
		}
	}

	for _, message := range messages {
		if message.ID == "" {
			message.ID = uuid.NewString()
		}
		if _, dup := s.ids[message.ID]; dup {
			continue
		}
		message.ChatID = chatID
		if message.CreatedAt.IsZero() {
			message.CreatedAt = s.now()
		}
		if message.Attachments == nil {
			message.Attachments = []chat.Attachment{}
		}
		s.ids[message.ID] = chatID
		s.messages[chatID] = append(s.messages[chatID], message)
	}
	return nil
}

// ListMessages returns the transcript ordered by createdAt, then insertion.
func (s *MemoryStore) ListMessages(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[chatID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

// DeleteSession removes a session with its transcript and returns it.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	for _, message := range s.messages[id] {
		delete(s.ids, message.ID)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return session, nil
}
