package chat

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

func TestChunkTextShortMessagePassesThrough(t *testing.T) {
	chunks := chunkText("hello", 4000)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestChunkTextSplitsOnNewlineBoundary(t *testing.T) {
	lines := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
	}
	text := strings.Join(lines, "\n")

	chunks := chunkText(text, 70)
	require.Len(t, chunks, 2)
	assert.Equal(t, lines[0]+"\n"+lines[1], chunks[0])
	assert.Equal(t, lines[2], chunks[1])
}

func TestChunkTextHardSplitsWithoutNewlines(t *testing.T) {
	text := strings.Repeat("x", 100)
	chunks := chunkText(text, 40)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 40)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkTextCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 50)
	chunks := chunkText(text, 30)
	require.Len(t, chunks, 2)
	assert.Equal(t, 30, len([]rune(chunks[0])))
}

func newMockNotifier(t *testing.T, transport Transport) (*Notifier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewNotifier(transport, store.New(db), config.DefaultAlertsConfig()), mock
}

func TestNotifierSendsNewAlert(t *testing.T) {
	transport := &FakeTransport{}
	n, mock := newMockNotifier(t, transport)

	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := n.Notify(context.Background(), models.Alert{
		Type:     "deal_announcement",
		Ticker:   "ACME",
		Key:      "f1",
		Message:  "Definitive agreement with Target Co",
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	require.Len(t, transport.Sent, 1)
	assert.Contains(t, transport.Sent[0], "DEAL ANNOUNCEMENT")
	assert.Contains(t, transport.Sent[0], "[ACME]")
}

func TestNotifierSuppressesWithinCooldown(t *testing.T) {
	transport := &FakeTransport{}
	n, mock := newMockNotifier(t, transport)

	recent, err := time.Now().Add(-time.Hour).MarshalJSON()
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(recent))

	err = n.Notify(context.Background(), models.Alert{
		Type: "deadline_approaching", Ticker: "ACME", Key: "30d",
	})
	require.NoError(t, err)
	assert.Empty(t, transport.Sent, "alert inside cooldown must be suppressed")
}

func TestNotifierSendsAgainAfterCooldown(t *testing.T) {
	transport := &FakeTransport{}
	n, mock := newMockNotifier(t, transport)

	stale, err := time.Now().Add(-25 * time.Hour).MarshalJSON()
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(stale))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = n.Notify(context.Background(), models.Alert{
		Type: "deadline_approaching", Ticker: "ACME", Key: "30d",
	})
	require.NoError(t, err)
	assert.Len(t, transport.Sent, 1)
}

func TestFormatAlertPriorityPrefix(t *testing.T) {
	critical := FormatAlert(models.Alert{Type: "x", Priority: models.PriorityCritical})
	assert.True(t, strings.HasPrefix(critical, "🚨"))

	low := FormatAlert(models.Alert{Type: "x", Priority: models.PriorityLow})
	assert.True(t, strings.HasPrefix(low, "ℹ️"))
}
