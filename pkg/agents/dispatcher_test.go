package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// echoAgent records every filing it processes.
type echoAgent struct {
	name      string
	processed []string
	err       error
}

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Process(_ context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	a.processed = append(a.processed, filing.ID)
	if a.err != nil {
		return Result{}, a.err
	}
	return Result{Summary: "ok"}, nil
}

func newTestDispatcher(t *testing.T, agents ...FilingAgent) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry := NewRegistry()
	for _, a := range agents {
		require.NoError(t, registry.RegisterFiling(a))
	}
	writer := store.NewMonitoredWriter(store.New(db), nil, 3, time.Hour, nil)
	cfg := config.DefaultDispatchConfig()
	cfg.WorkerCount = 1 // deterministic sqlmock ordering
	return NewDispatcher(registry, nil, writer, db, nil, cfg, config.DefaultPollerConfig()), mock
}

func classifiedFiling(id string, agents ...string) models.Filing {
	return models.Filing{
		ID:         id,
		Ticker:     "ACME",
		Type:       "8-K",
		Title:      "8-K - Current report",
		FilingDate: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		DetectedAt: time.Now(),
		Classification: &models.Classification{
			Priority:     models.PriorityHigh,
			AgentsNeeded: agents,
			Tag:          "Material Agreement",
			Summary:      "summary",
		},
	}
}

func expectSeenAppend(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value FROM state_store .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestDispatchLogsThenMarksSeen(t *testing.T) {
	agent := &echoAgent{name: "DealDetector"}
	d, mock := newTestDispatcher(t, agent)

	mock.ExpectExec(`INSERT INTO filing_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectSeenAppend(mock)

	tasks := d.DispatchAll(context.Background(), []models.Filing{
		classifiedFiling("f1", "DealDetector"),
	})
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCompleted, tasks[0].Status)
	assert.Equal(t, []string{"f1"}, agent.processed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchFailedLogDoesNotMarkSeen(t *testing.T) {
	agent := &echoAgent{name: "DealDetector"}
	d, mock := newTestDispatcher(t, agent)

	mock.ExpectExec(`INSERT INTO filing_events`).
		WillReturnError(errors.New("connection refused"))
	// No state_store expectations: a failed log must leave the filing
	// unseen so the next poll re-processes it.

	tasks := d.DispatchAll(context.Background(), []models.Filing{
		classifiedFiling("f1", "DealDetector"),
	})
	require.Len(t, tasks, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchDuplicateRowStillMarksSeen(t *testing.T) {
	agent := &echoAgent{name: "DealDetector"}
	d, mock := newTestDispatcher(t, agent)

	mock.ExpectExec(`INSERT INTO filing_events`).
		WillReturnError(errors.New(`duplicate key value violates unique constraint "filing_events_filing_id_key"`))
	expectSeenAppend(mock)

	d.DispatchAll(context.Background(), []models.Filing{
		classifiedFiling("f1", "DealDetector"),
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchAgentFailureDoesNotBlockLogging(t *testing.T) {
	failing := &echoAgent{name: "DealDetector", err: errors.New("extraction blew up")}
	ok := &echoAgent{name: "FilingProcessor"}
	d, mock := newTestDispatcher(t, failing, ok)

	mock.ExpectExec(`INSERT INTO filing_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectSeenAppend(mock)

	tasks := d.DispatchAll(context.Background(), []models.Filing{
		classifiedFiling("f1", "DealDetector", "FilingProcessor"),
	})
	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskFailed, tasks[0].Status)
	assert.Equal(t, "extraction blew up", tasks[0].Error)
	assert.Equal(t, models.TaskCompleted, tasks[1].Status)
	assert.Equal(t, []string{"f1"}, ok.processed, "later agents still run after a failure")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchUnknownAgentFailsTask(t *testing.T) {
	d, mock := newTestDispatcher(t)

	mock.ExpectExec(`INSERT INTO filing_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectSeenAppend(mock)

	tasks := d.DispatchAll(context.Background(), []models.Filing{
		classifiedFiling("f1", "NoSuchAgent"),
	})
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].Error, "NoSuchAgent")
}

func TestRefineRelevanceDropsExplicitlyIrrelevantAgents(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.llm = &llm.Fake{Responses: []string{
		`{"DealDetector": true, "FilingProcessor": false}`,
	}}

	f := classifiedFiling("f1", "DealDetector", "FilingProcessor")
	f.Body = strings.Repeat("merger agreement details ", 40)
	kept := d.refineRelevance(context.Background(), &f, []string{"DealDetector", "FilingProcessor"})
	assert.Equal(t, []string{"DealDetector"}, kept)
}

func TestRefineRelevanceParseFailureKeepsAll(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.llm = &llm.Fake{Responses: []string{"both seem relevant to me"}}

	f := classifiedFiling("f1", "DealDetector", "FilingProcessor")
	f.Body = strings.Repeat("proxy statement content ", 40)
	kept := d.refineRelevance(context.Background(), &f, []string{"DealDetector", "FilingProcessor"})
	assert.Equal(t, []string{"DealDetector", "FilingProcessor"}, kept)
}

func TestRefineRelevanceSkipsShortBodies(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.llm = &llm.Fake{Responses: []string{`{"DealDetector": false}`}}

	f := classifiedFiling("f1", "DealDetector", "FilingProcessor")
	f.Body = "short"
	kept := d.refineRelevance(context.Background(), &f, []string{"DealDetector", "FilingProcessor"})
	assert.Equal(t, []string{"DealDetector", "FilingProcessor"}, kept,
		"short bodies are not worth a model call")
}
