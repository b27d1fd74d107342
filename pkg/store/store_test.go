package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGetDecodesValue(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WithArgs("scheduler.last_run", "filing_poller").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`"2026-08-24T10:00:00Z"`)))

	var got string
	require.NoError(t, s.Get(context.Background(), "scheduler.last_run", "filing_poller", &got))
	assert.Equal(t, "2026-08-24T10:00:00Z", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WithArgs("health", "poller").
		WillReturnError(sql.ErrNoRows)

	var got string
	err := s.Get(context.Background(), "health", "poller", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSwapAbsentOnly(t *testing.T) {
	s, mock := newMockStore(t)

	// First claim succeeds.
	mock.ExpectExec(`INSERT INTO state_store .* ON CONFLICT .* DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.CompareAndSwap(context.Background(), "queue.active", "current", nil, "q-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses.
	mock.ExpectExec(`INSERT INTO state_store .* ON CONFLICT .* DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.CompareAndSwap(context.Background(), "queue.active", "current", nil, "q-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendBoundedTrimsToCap(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value FROM state_store .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`["a","b","c"]`)))
	mock.ExpectExec(`INSERT INTO state_store`).
		WithArgs("filing.seen", "ACME", []byte(`["b","c","d"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.AppendBounded(context.Background(), "filing.seen", "ACME", "d", 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendBoundedFirstWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value FROM state_store .* FOR UPDATE`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO state_store`).
		WithArgs("filing.seen", "ACME", []byte(`["x"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.AppendBounded(context.Background(), "filing.seen", "ACME", "x", 1000))
}

func TestListContains(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`["f1","f2"]`)))

	ok, err := s.ListContains(context.Background(), "filing.seen", "ACME", "f2")
	require.NoError(t, err)
	assert.True(t, ok)
}
