package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tasks/backend/internal/store/sqlite"
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesSchema(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx), "migrate must be idempotent")

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chats", "messages", "stream_events", "streams", "tasks"}, tables)
}
