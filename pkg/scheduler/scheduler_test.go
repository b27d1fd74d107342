package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/agents"
	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

var nyc = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Tuesday, mid-session in New York.
var tickNow = time.Date(2026, 8, 25, 10, 0, 0, 0, nyc)

type fakeEntities struct {
	active      []*models.Spac
	accelerated []string
}

func (f *fakeEntities) ListActive(context.Context) ([]*models.Spac, error) {
	return f.active, nil
}

func (f *fakeEntities) AcceleratedTickers(context.Context, time.Time) ([]string, error) {
	return f.accelerated, nil
}

type fakePipeline struct {
	order *[]string
}

func (f *fakePipeline) SyncFilings(context.Context) error {
	*f.order = append(*f.order, TaskFilingSync)
	return nil
}

type fakeQueue struct {
	serviced int
}

func (f *fakeQueue) ServiceQueue(context.Context) error {
	f.serviced++
	return nil
}

type recordingAgent struct {
	name  string
	order *[]string
}

func (a *recordingAgent) Name() string { return a.name }

func (a *recordingAgent) Run(context.Context) (agents.Result, error) {
	*a.order = append(*a.order, a.name)
	return agents.Result{}, nil
}

func recordingRegistry(t *testing.T, order *[]string) *agents.Registry {
	t.Helper()
	r := agents.NewRegistry()
	for _, name := range []string{
		agents.AgentPriceUpdater, agents.AgentNewsMonitor, agents.AgentSocialMonitor,
		agents.AgentAfterMarket, agents.AgentDailyChecks, agents.AgentWeeklyEnrichment,
		agents.AgentDailyDigest, agents.AgentPremiumAlerter, agents.AgentRiskMonitor,
		agents.AgentVolumeTracker,
	} {
		require.NoError(t, r.RegisterScheduled(&recordingAgent{name: name, order: order}))
	}
	return r
}

func newTestScheduler(t *testing.T, pipeline Pipeline, queue QueueServicer,
	entities EntityInfo, model llm.Client, order *[]string) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(config.DefaultSchedulerConfig(), store.New(db),
		recordingRegistry(t, order), pipeline, queue, entities, model)
	require.NoError(t, err)
	s.now = func() time.Time { return tickNow }
	return s, mock
}

func lastRunRow(t *testing.T, ts time.Time) *sqlmock.Rows {
	t.Helper()
	raw, err := json.Marshal(ts)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"value"}).AddRow(raw)
}

func taskByName(t *testing.T, s *Scheduler, name string) *task {
	t.Helper()
	for _, tk := range s.tasks {
		if tk.name == name {
			return tk
		}
	}
	t.Fatalf("no task named %s", name)
	return nil
}

func TestIntervalTaskDueWhenNeverRun(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)

	ok, _ := s.eligible(context.Background(), taskByName(t, s, agents.AgentNewsMonitor), tickNow, false)
	assert.True(t, ok)
}

func TestIntervalTaskWaitsOutItsInterval(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)

	lastRun := tickNow.Add(-5 * time.Minute)
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnRows(lastRunRow(t, lastRun))

	ok, nextAt := s.eligible(context.Background(), taskByName(t, s, TaskFilingSync), tickNow, false)
	assert.False(t, ok)
	assert.Equal(t, lastRun.Add(15*time.Minute).Unix(), nextAt.Unix())
}

func TestAcceleratedSetShortensFilingCadence(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)

	// 6 minutes since last run: past the 5m accelerated cadence, short of
	// the normal 15m one.
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(lastRunRow(t, tickNow.Add(-6*time.Minute)))
	ok, _ := s.eligible(context.Background(), taskByName(t, s, TaskFilingSync), tickNow, true)
	assert.True(t, ok)

	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(lastRunRow(t, tickNow.Add(-6*time.Minute)))
	ok, _ = s.eligible(context.Background(), taskByName(t, s, TaskFilingSync), tickNow, false)
	assert.False(t, ok)
}

func TestPriceUpdaterGatedOutsideMarketHours(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)
	price := taskByName(t, s, agents.AgentPriceUpdater)

	saturday := time.Date(2026, 8, 29, 12, 0, 0, 0, nyc)
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, nextAt := s.eligible(context.Background(), price, saturday, false)
	assert.False(t, ok)
	assert.Equal(t, time.Monday, nextAt.Weekday())
	assert.Equal(t, 9, nextAt.In(nyc).Hour())

	evening := time.Date(2026, 8, 25, 18, 0, 0, 0, nyc)
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, _ = s.eligible(context.Background(), price, evening, false)
	assert.False(t, ok)

	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, _ = s.eligible(context.Background(), price, tickNow, false)
	assert.True(t, ok)
}

func TestAfterMarketRunsOncePerDayAfterClose(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)
	am := taskByName(t, s, agents.AgentAfterMarket)

	// Before 16:30 the gate is closed.
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, nextAt := s.eligible(context.Background(), am, tickNow, false)
	assert.False(t, ok)
	assert.Equal(t, "16:30", nextAt.In(nyc).Format("15:04"))

	// After close, never run: eligible.
	evening := time.Date(2026, 8, 25, 17, 0, 0, 0, nyc)
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, _ = s.eligible(context.Background(), am, evening, false)
	assert.True(t, ok)

	// Already ran today: not again.
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(lastRunRow(t, time.Date(2026, 8, 25, 16, 35, 0, 0, nyc)))
	ok, _ = s.eligible(context.Background(), am, evening, false)
	assert.False(t, ok)
}

func TestWeeklyEnrichmentGate(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)
	weekly := taskByName(t, s, agents.AgentWeeklyEnrichment)

	sunday := time.Date(2026, 8, 23, 10, 0, 0, 0, nyc)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(lastRunRow(t, sunday.AddDate(0, 0, -7)))
	ok, _ := s.eligible(context.Background(), weekly, sunday, false)
	assert.True(t, ok)

	// Same ISO week: refused.
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(lastRunRow(t, sunday.Add(-2*time.Hour)))
	ok, _ = s.eligible(context.Background(), weekly, sunday, false)
	assert.False(t, ok)

	// Not Sunday: gate closed.
	mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	ok, _ = s.eligible(context.Background(), weekly, tickNow, false)
	assert.False(t, ok)
}

func TestTickExecutesDueTasksInPriorityOrder(t *testing.T) {
	var order []string
	queue := &fakeQueue{}
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, queue, &fakeEntities{}, nil, &order)

	// Health stamp.
	mock.ExpectExec(`INSERT INTO state_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	// One last_run read per enabled task; nothing has ever run.
	for range 8 {
		mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	}
	// last_run + last_success stamps for the five tasks due at 10:00.
	for range 10 {
		mock.ExpectExec(`INSERT INTO state_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 1, queue.serviced)
	assert.Equal(t, []string{
		TaskFilingSync,
		agents.AgentDailyChecks,
		agents.AgentNewsMonitor,
		agents.AgentPremiumAlerter,
		agents.AgentPriceUpdater,
	}, order)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryRestrictedToClosedAgentSet(t *testing.T) {
	var order []string
	model := &llm.Fake{Responses: []string{
		`{"agents": ["VolumeTracker", "DropTables", "RiskMonitor"], "reason": "volume spike"}`,
	}}
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{
		active: []*models.Spac{{Ticker: "ACME", Status: models.StatusSearching}},
	}, model, &order)

	// stateSummary reads last_run for every table entry.
	for range 9 {
		mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	}

	advised := s.advisory(context.Background(), nil)
	assert.Equal(t, []string{"VolumeTracker", "RiskMonitor"}, advised)
	require.Len(t, model.Prompts, 1)
	assert.Contains(t, model.Prompts[0], "tracked entities: 1")
	assert.Contains(t, model.Prompts[0], agents.AgentPriceUpdater)
}

func TestAdvisoryParseFailureFallsBackToPriceMonitor(t *testing.T) {
	var order []string
	model := &llm.Fake{Responses: []string{"sure, run everything!"}}
	s, mock := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, model, &order)

	for range 9 {
		mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	}

	advised := s.advisory(context.Background(), nil)
	assert.Equal(t, []string{agents.AgentPriceUpdater}, advised)
}

func TestMergeDedupesAndSortsByPriority(t *testing.T) {
	var order []string
	s, _ := newTestScheduler(t, &fakePipeline{order: &order}, nil, &fakeEntities{}, nil, &order)

	due := []*task{
		taskByName(t, s, agents.AgentDailyDigest), // low
		taskByName(t, s, TaskFilingSync),          // high
	}
	merged := s.merge(due, []string{agents.AgentRiskMonitor, TaskFilingSync})

	names := make([]string, len(merged))
	for i, tk := range merged {
		names[i] = tk.name
	}
	// High first, then the advisory medium, then low. The duplicate
	// advisory entry for the filing sync is dropped.
	assert.Equal(t, []string{
		TaskFilingSync,
		agents.AgentRiskMonitor,
		agents.AgentDailyDigest,
	}, names)
}

func TestStopFinishesCurrentTick(t *testing.T) {
	var order []string
	s, mock := newTestScheduler(t, nil, nil, &fakeEntities{}, nil, &order)

	mock.ExpectExec(`INSERT INTO state_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	for range 7 {
		mock.ExpectQuery(`SELECT value FROM state_store`).WillReturnError(sql.ErrNoRows)
	}
	for range 8 {
		mock.ExpectExec(`INSERT INTO state_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	}

	s.Stop()
	require.NoError(t, s.Run(context.Background()))
	// With no pipeline the filing sync is disabled; the due agents still ran.
	assert.Contains(t, order, agents.AgentPriceUpdater)
}
