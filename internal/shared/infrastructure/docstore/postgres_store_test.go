package docstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_ReadCollection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	rows := pgxmock.NewRows([]string{"body"}).
		AddRow([]byte(`{"id":"inv_1","amount":1200}`)).
		AddRow([]byte(`{"id":"inv_2","amount":900}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body FROM documents WHERE collection = $1 ORDER BY position`)).
		WithArgs("invoices").
		WillReturnRows(rows)

	records, err := store.ReadCollection(context.Background(), "invoices")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "inv_1", records[0].ID())
	assert.Equal(t, float64(900), records[1]["amount"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReadCollection_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body FROM documents`)).
		WithArgs("payments").
		WillReturnRows(pgxmock.NewRows([]string{"body"}))

	records, err := NewPostgresStore(mock).ReadCollection(context.Background(), "payments")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPostgresStore_WriteCollection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE collection = $1`)).
		WithArgs("invoices").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents (collection, id, position, body)`)).
		WithArgs("invoices", "inv_1", 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents (collection, id, position, body)`)).
		WithArgs("invoices", "inv_2", 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = store.WriteCollection(context.Background(), "invoices", []Record{
		{"id": "inv_1", "status": "open"},
		{"id": "inv_2", "status": "paid"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteCollection_RollsBackOnInsertFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents`)).
		WithArgs("invoices").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
		WithArgs("invoices", "inv_1", 0, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = NewPostgresStore(mock).WriteCollection(context.Background(), "invoices", []Record{{"id": "inv_1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteCollection_RejectsRecordWithoutID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	err = NewPostgresStore(mock).WriteCollection(context.Background(), "invoices", []Record{{"amount": 1}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("dial tcp: refused"))

	assert.Error(t, NewPostgresStore(mock).Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
