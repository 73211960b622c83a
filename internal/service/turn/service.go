// Package turn drives one chat turn from submission to the persisted reply.
package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/internal/service/ai"
	"github.com/zhouzirui/z-tasks/backend/internal/service/stream"
)

var (
	ErrUnknownVariant = errors.New("unknown model variant")
	ErrForbidden      = errors.New("chat belongs to another user")
	ErrInvalidMessage = errors.New("invalid user message")
	ErrOwnerMissing   = errors.New("owner is required")
)

// Runner executes the model side of a turn.
type Runner interface {
	Run(ctx context.Context, turn ai.Turn, emit ai.Emitter)
}

// Titler names a new session after its first message.
type Titler interface {
	Generate(ctx context.Context, first chat.Message) string
}

// Submission is a user message posted to a chat.
type Submission struct {
	ChatID     string
	OwnerID    string
	Message    chat.Message
	VariantID  string
	Visibility chat.Visibility
}

// Service coordinates the conversation store, the model pipeline and the
// stream broker.
type Service struct {
	chats    chat.Store
	variants variant.Store
	runner   Runner
	broker   *stream.Broker
	titles   Titler
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTitler replaces the default title, the truncated first message.
func WithTitler(t Titler) Option {
	return func(s *Service) {
		if t != nil {
			s.titles = t
		}
	}
}

func NewService(chats chat.Store, variants variant.Store, runner Runner, broker *stream.Broker, opts ...Option) *Service {
	s := &Service{
		chats:    chats,
		variants: variants,
		runner:   runner,
		broker:   broker,
		titles:   ai.NewTitleGenerator(nil, nil),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stores the user message and starts the model turn. The returned
// reader carries the live events; the turn keeps running if it is abandoned.
func (s *Service) Submit(ctx context.Context, sub Submission) (chat.StreamRecord, stream.Reader, error) {
	if sub.OwnerID == "" {
		return chat.StreamRecord{}, nil, ErrOwnerMissing
	}
	if err := validateMessage(sub); err != nil {
		return chat.StreamRecord{}, nil, err
	}

	v, ok := s.variants.FindByID(sub.VariantID)
	if !ok || !v.Selectable {
		return chat.StreamRecord{}, nil, goerr.Wrap(ErrUnknownVariant, "submit", goerr.V("variant", sub.VariantID))
	}

	session, err := s.session(ctx, sub)
	if err != nil {
		return chat.StreamRecord{}, nil, err
	}
	if session.OwnerID != sub.OwnerID {
		return chat.StreamRecord{}, nil, ErrForbidden
	}

	user := sub.Message
	user.ChatID = session.ID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	if err := s.chats.AppendMessages(ctx, session.ID, []chat.Message{user}); err != nil {
		if errors.Is(err, chat.ErrMessageConflict) {
			return chat.StreamRecord{}, nil, goerr.Wrap(ErrInvalidMessage, "message id belongs to another chat", goerr.V("message_id", user.ID))
		}
		return chat.StreamRecord{}, nil, goerr.Wrap(err, "failed to store user message", goerr.V("chat_id", session.ID))
	}

	history, err := s.chats.ListMessages(ctx, session.ID)
	if err != nil {
		return chat.StreamRecord{}, nil, goerr.Wrap(err, "failed to load transcript", goerr.V("chat_id", session.ID))
	}
	history = upTo(history, user.ID)

	assistantID := uuid.NewString()
	turn := ai.Turn{OwnerID: sub.OwnerID, Variant: v, History: history}
	logger := s.logger.With(zap.String("chat_id", session.ID), zap.String("message_id", assistantID))

	produce := func(ctx context.Context, emit func(chat.Event)) {
		emit(chat.Event{Type: chat.EventStart, MessageID: assistantID})
		s.runner.Run(ctx, turn, emit)
	}
	finish := func(ctx context.Context, record chat.StreamRecord, events []chat.Event) {
		reply := chat.AssembleMessage(assistantID, session.ID, events, s.now())
		if len(reply.Parts) == 0 {
			logger.Info("turn produced no content", zap.String("stream_id", record.StreamID))
			return
		}
		if err := s.chats.AppendMessages(ctx, session.ID, []chat.Message{reply}); err != nil {
			logger.Error("failed to store assistant message", zap.String("stream_id", record.StreamID), zap.Error(err))
		}
	}

	return s.broker.Start(ctx, session.ID, produce, finish)
}

func (s *Service) session(ctx context.Context, sub Submission) (chat.Session, error) {
	session, err := s.chats.GetSession(ctx, sub.ChatID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, chat.ErrSessionNotFound) {
		return chat.Session{}, goerr.Wrap(err, "failed to load session", goerr.V("chat_id", sub.ChatID))
	}

	visibility := sub.Visibility
	if !visibility.Valid() {
		visibility = chat.VisibilityPrivate
	}
	created, err := s.chats.CreateSession(ctx, chat.Session{
		ID:         sub.ChatID,
		OwnerID:    sub.OwnerID,
		Title:      s.titles.Generate(ctx, sub.Message),
		Visibility: visibility,
		CreatedAt:  s.now(),
	})
	if errors.Is(err, chat.ErrSessionExists) {
		return s.chats.GetSession(ctx, sub.ChatID)
	}
	if err != nil {
		return chat.Session{}, goerr.Wrap(err, "failed to create session", goerr.V("chat_id", sub.ChatID))
	}
	return created, nil
}

// Resume reattaches to a stream of a chat the caller may read. An empty
// streamID selects the chat's latest stream.
func (s *Service) Resume(ctx context.Context, ownerID, chatID, streamID string, after int64) (chat.StreamRecord, stream.Reader, error) {
	if _, err := s.readable(ctx, ownerID, chatID); err != nil {
		return chat.StreamRecord{}, nil, err
	}
	if streamID == "" {
		return s.broker.ResumeLatest(ctx, chatID, after)
	}

	record, reader, err := s.broker.Resume(ctx, streamID, after)
	if err != nil {
		return chat.StreamRecord{}, nil, err
	}
	if record.ChatID != chatID {
		_ = reader.Close()
		return chat.StreamRecord{}, nil, chat.ErrStreamNotFound
	}
	return record, reader, nil
}

// Messages returns the transcript of a chat the caller may read.
func (s *Service) Messages(ctx context.Context, ownerID, chatID string) ([]chat.Message, error) {
	if _, err := s.readable(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	return s.chats.ListMessages(ctx, chatID)
}

// Delete removes a chat owned by the caller and returns its record.
func (s *Service) Delete(ctx context.Context, ownerID, chatID string) (chat.Session, error) {
	session, err := s.chats.GetSession(ctx, chatID)
	if err != nil {
		return chat.Session{}, err
	}
	if session.OwnerID != ownerID {
		return chat.Session{}, ErrForbidden
	}
	return s.chats.DeleteSession(ctx, chatID)
}

func (s *Service) readable(ctx context.Context, ownerID, chatID string) (chat.Session, error) {
	session, err := s.chats.GetSession(ctx, chatID)
	if err != nil {
		return chat.Session{}, err
	}
	if session.Visibility != chat.VisibilityPublic && session.OwnerID != ownerID {
		return chat.Session{}, ErrForbidden
	}
	return session, nil
}

func validateMessage(sub Submission) error {
	msg := sub.Message
	switch {
	case sub.ChatID == "":
		return goerr.Wrap(ErrInvalidMessage, "chat id is required")
	case msg.ID == "":
		return goerr.Wrap(ErrInvalidMessage, "message id is required")
	case msg.Role != chat.RoleUser:
		return goerr.Wrap(ErrInvalidMessage, "only user messages may be submitted", goerr.V("role", msg.Role))
	case strings.TrimSpace(msg.Text()) == "" && len(msg.Attachments) == 0:
		return goerr.Wrap(ErrInvalidMessage, "message has no content")
	}
	return nil
}

// upTo cuts the transcript after the message with the given id, so a replayed
// submission sees the history it was first answered with.
func upTo(history []chat.Message, id string) []chat.Message {
	for i, msg := range history {
		if msg.ID == id {
			return history[:i+1]
		}
	}
	return history
}
