package migrations

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/database/sqlite"
)

func TestRunSQLiteMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "billsync.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunSQLiteMigrations(ctx, db))
	require.NoError(t, RunSQLiteMigrations(ctx, db))

	var name string
	err = db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'collection_records'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "collection_records", name)
}

func TestRunPostgresMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	files, err := PostgresMigrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"000001_documents.up.sql", "000002_documents_lookup.up.sql"}, files)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS documents")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_documents_external_id")).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, RunPostgresMigrations(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunPostgresMigrations_StopsOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS documents")).
		WillReturnError(errors.New("permission denied"))

	err = RunPostgresMigrations(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000001_documents.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
