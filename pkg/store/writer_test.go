package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoredWriterRecordsFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(`INSERT INTO database_write_failures`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := NewMonitoredWriter(s, nil, 3, time.Hour, nil)
	err := w.Put(context.Background(), "health", "poller", "ok")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitoredWriterEscalatesCriticalFailures(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectExec(`INSERT INTO database_write_failures`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM database_write_failures`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	var alerted *models.Alert
	w := NewMonitoredWriter(s, []string{"deal_updates"}, 3, time.Hour,
		func(_ context.Context, a models.Alert) { alerted = &a })

	err := w.Put(context.Background(), "deal_updates", "ACME", "v")
	require.Error(t, err)
	require.NotNil(t, alerted, "three critical failures within the window must alert")
	assert.Equal(t, "critical_write_failure", alerted.Type)
	assert.Equal(t, models.PriorityCritical, alerted.Priority)
}

func TestMonitoredWriterNonCriticalDoesNotAlert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnError(errors.New("timeout"))
	mock.ExpectExec(`INSERT INTO database_write_failures`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	alerted := false
	w := NewMonitoredWriter(s, []string{"deal_updates"}, 3, time.Hour,
		func(_ context.Context, _ models.Alert) { alerted = true })

	_ = w.Put(context.Background(), "health", "poller", "v")
	assert.False(t, alerted)
}
