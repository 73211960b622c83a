// Package sqlite persists tasks, conversations and stream event logs in a
// single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	text TEXT NOT NULL,
	time INTEGER NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner_time ON tasks(owner_id, time);

CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	visibility TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	parts TEXT NOT NULL,
	attachments TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

CREATE TABLE IF NOT EXISTS streams (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_streams_chat ON streams(chat_id, created_at);

CREATE TABLE IF NOT EXISTS stream_events (
	stream_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (stream_id, seq)
);
`

// DB is an open database with the schema applied.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	// SQLite serialises writers; share one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to connect database", goerr.V("path", path))
	}

	store := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies the schema. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "failed to apply schema")
	}
	return nil
}

// Tables lists the tables of the database.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, goerr.Wrap(err, "failed to scan table name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tasks returns the task.Store view of the database.
func (d *DB) Tasks() *TaskStore {
	return &TaskStore{db: d.db, now: d.now}
}

// Conversations returns the chat.Store view of the database.
func (d *DB) Conversations() *ConversationStore {
	return &ConversationStore{db: d.db, now: d.now}
}

// Events returns the chat.EventLog view of the database.
func (d *DB) Events() *EventLog {
	return &EventLog{db: d.db}
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}
