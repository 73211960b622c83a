package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// ConversationStore implements chat.Store.
type ConversationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ chat.Store = (*ConversationStore)(nil)

func (s *ConversationStore) CreateSession(ctx context.Context, session chat.Session) (chat.Session, error) {
	if session.ID == "" {
		return chat.Session{}, goerr.New("session id is required")
	}
	if session.Visibility == "" {
		session.Visibility = chat.VisibilityPrivate
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.CreatedAt = fromUnix(toUnix(session.CreatedAt))

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, owner_id, title, visibility, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		session.ID, session.OwnerID, session.Title, string(session.Visibility), toUnix(session.CreatedAt))
	if err != nil {
		return chat.Session{}, goerr.Wrap(err, "failed to insert session", goerr.V("chat_id", session.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Session{}, goerr.Wrap(chat.ErrSessionExists, "create session", goerr.V("chat_id", session.ID))
	}
	return session, nil
}

func (s *ConversationStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	return getSession(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q queryer, id string) (chat.Session, error) {
	var (
		session    chat.Session
		visibility string
		createdAt  int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, title, visibility, created_at FROM chats WHERE id = ?`, id,
	).Scan(&session.ID, &session.OwnerID, &session.Title, &visibility, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, goerr.Wrap(err, "failed to load session", goerr.V("chat_id", id))
	}
	session.Visibility = chat.Visibility(visibility)
	session.CreatedAt = fromUnix(createdAt)
	return session, nil
}

func (s *ConversationStore) AppendMessages(ctx context.Context, chatID string, messages []chat.Message) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, chatID); err != nil {
			return err
		}

		for _, message := range messages {
			if message.ID == "" {
				message.ID = uuid.NewString()
			}

			var stored string
			err := tx.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = ?`, message.ID).Scan(&stored)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return goerr.Wrap(err, "failed to look up message", goerr.V("message_id", message.ID))
			case stored != chatID:
				return goerr.Wrap(chat.ErrMessageConflict, "message stored in another session", goerr.V("message_id", message.ID))
			default:
				continue
			}

			if message.CreatedAt.IsZero() {
				message.CreatedAt = s.now()
			}
			if message.Parts == nil {
				message.Parts = []chat.Part{}
			}
			if message.Attachments == nil {
				message.Attachments = []chat.Attachment{}
			}

			parts, err := json.Marshal(message.Parts)
			if err != nil {
				return goerr.Wrap(err, "failed to encode message parts", goerr.V("message_id", message.ID))
			}
			attachments, err := json.Marshal(message.Attachments)
			if err != nil {
				return goerr.Wrap(err, "failed to encode attachments", goerr.V("message_id", message.ID))
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO messages (id, chat_id, role, parts, attachments, created_at) VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO NOTHING`,
				message.ID, chatID, string(message.Role), string(parts), string(attachments), toUnix(message.CreatedAt))
			if err != nil {
				return goerr.Wrap(err, "failed to insert message", goerr.V("message_id", message.ID))
			}
		}
		return nil
	})
}

func (s *ConversationStore) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, parts, attachments, created_at FROM messages
		 WHERE chat_id = ? ORDER BY created_at, rowid`, chatID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages", goerr.V("chat_id", chatID))
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			message            chat.Message
			role               string
			parts, attachments string
			createdAt          int64
		)
		if err := rows.Scan(&message.ID, &message.ChatID, &role, &parts, &attachments, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message")
		}
		message.Role = chat.Role(role)
		message.CreatedAt = fromUnix(createdAt)
		if err := json.Unmarshal([]byte(parts), &message.Parts); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message parts", goerr.V("message_id", message.ID))
		}
		if err := json.Unmarshal([]byte(attachments), &message.Attachments); err != nil {
			return nil, goerr.Wrap(err, "failed to decode attachments", goerr.V("message_id", message.ID))
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// DeleteSession removes the session, its transcript and its stream logs.
func (s *ConversationStore) DeleteSession(ctx context.Context, id string) (chat.Session, error) {
	var session chat.Session
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if session, err = getSession(ctx, tx, id); err != nil {
			return err
		}
		statements := []string{
			`DELETE FROM stream_events WHERE stream_id IN (SELECT id FROM streams WHERE chat_id = ?)`,
			`DELETE FROM streams WHERE chat_id = ?`,
			`DELETE FROM messages WHERE chat_id = ?`,
			`DELETE FROM chats WHERE id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return goerr.Wrap(err, "failed to delete session", goerr.V("chat_id", id))
			}
		}
		return nil
	})
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}
