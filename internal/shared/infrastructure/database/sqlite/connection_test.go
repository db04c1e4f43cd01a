package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDirectoryAndFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store", "billsync.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)
	assert.NoError(t, db.PingContext(ctx))
}

func TestOpen_ExecAndQuery(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, filepath.Join(t.TempDir(), "billsync.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE probe (id TEXT PRIMARY KEY, body TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO probe (id, body) VALUES (?, ?)`, "sub_1", `{"id":"sub_1"}`)
	require.NoError(t, err)

	var body string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT body FROM probe WHERE id = ?`, "sub_1").Scan(&body))
	assert.JSONEq(t, `{"id":"sub_1"}`, body)

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
