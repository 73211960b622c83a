package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// EventLog implements chat.EventLog. Events are stored as JSON documents
// keyed by (stream id, seq).
type EventLog struct {
	db *sql.DB
}

var _ chat.EventLog = (*EventLog)(nil)

func (l *EventLog) CreateStream(ctx context.Context, record chat.StreamRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO streams (id, chat_id, created_at) VALUES (?, ?, ?)`,
		record.StreamID, record.ChatID, toUnix(record.CreatedAt))
	if err != nil {
		return goerr.Wrap(err, "failed to create stream", goerr.V("stream_id", record.StreamID))
	}
	return nil
}

func (l *EventLog) Append(ctx context.Context, streamID string, event chat.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return goerr.Wrap(err, "failed to encode event", goerr.V("stream_id", streamID))
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO stream_events (stream_id, seq, payload)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM streams WHERE id = ?)`,
		streamID, event.Seq, string(payload), streamID)
	if err != nil {
		return goerr.Wrap(err, "failed to append event", goerr.V("stream_id", streamID), goerr.V("seq", event.Seq))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(chat.ErrStreamNotFound, "append event", goerr.V("stream_id", streamID))
	}
	return nil
}

func (l *EventLog) ReadAfter(ctx context.Context, streamID string, after int64) ([]chat.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT payload FROM stream_events WHERE stream_id = ? AND seq > ? ORDER BY seq`, streamID, after)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read events", goerr.V("stream_id", streamID))
	}
	defer rows.Close()

	events := make([]chat.Event, 0, 16)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, goerr.Wrap(err, "failed to scan event")
		}
		var event chat.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event", goerr.V("stream_id", streamID))
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (l *EventLog) GetStream(ctx context.Context, streamID string) (chat.StreamRecord, error) {
	return l.scanStream(l.db.QueryRowContext(ctx,
		`SELECT id, chat_id, created_at FROM streams WHERE id = ?`, streamID))
}

func (l *EventLog) LatestStream(ctx context.Context, chatID string) (chat.StreamRecord, error) {
	return l.scanStream(l.db.QueryRowContext(ctx,
		`SELECT id, chat_id, created_at FROM streams WHERE chat_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, chatID))
}

func (l *EventLog) scanStream(row *sql.Row) (chat.StreamRecord, error) {
	var (
		record    chat.StreamRecord
		createdAt int64
	)
	err := row.Scan(&record.StreamID, &record.ChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.StreamRecord{}, chat.ErrStreamNotFound
	}
	if err != nil {
		return chat.StreamRecord{}, goerr.Wrap(err, "failed to load stream")
	}
	record.CreatedAt = fromUnix(createdAt)
	return record, nil
}

// Evict drops streams created before olderThan together with their events.
func (l *EventLog) Evict(ctx context.Context, olderThan time.Time) (int, error) {
	var evicted int
	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		cutoff := toUnix(olderThan)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stream_events WHERE stream_id IN (SELECT id FROM streams WHERE created_at < ?)`, cutoff); err != nil {
			return goerr.Wrap(err, "failed to evict events")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE created_at < ?`, cutoff)
		if err != nil {
			return goerr.Wrap(err, "failed to evict streams")
		}
		n, err := res.RowsAffected()
		evicted = int(n)
		return err
	})
	return evicted, err
}
