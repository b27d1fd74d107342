package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/httpc"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func feedXML(entries string) string {
	return `<?xml version="1.0" encoding="ISO-8859-1" ?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>ACME CORP (0001234567)</title>` + entries + `</feed>`
}

func entryXML(title, updated, href, term string) string {
	return fmt.Sprintf(`<entry>
<title>%s</title>
<updated>%s</updated>
<link rel="alternate" type="text/html" href="%s"/>
<category scheme="https://www.sec.gov/" label="form type" term="%s"/>
<summary>Item 1.01 Entry into a Material Definitive Agreement</summary>
</entry>`, title, updated, href, term)
}

func newTestPoller(t *testing.T, feedBody string, status int) (*Poller, sqlmock.Sqlmock, *int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	httpCfg := config.DefaultHTTPConfig()
	httpCfg.UserAgent = "spacwatch-test admin@example.com"
	httpCfg.DefaultHostRPS = 1000
	httpCfg.RetryBaseDelay = time.Millisecond
	client, err := httpc.New(httpCfg)
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultPollerConfig()
	cfg.FeedURLTemplate = srv.URL + "/feed?cik=%s"
	cfg.InterRequestSleep = 0

	alerts := new(int)
	p := New(client, store.New(db), cfg, func(_ context.Context, _ models.Alert) { (*alerts)++ })
	p.now = func() time.Time { return testNow }
	p.sleep = func(context.Context, time.Duration) {}
	return p, mock, alerts
}

func entity() *models.Spac {
	return &models.Spac{Ticker: "ACME", CIK: "0001234567", Status: models.StatusSearching}
}

func TestPollEntityReturnsNewFilingsOldestFirst(t *testing.T) {
	feed := feedXML(
		entryXML("8-K - Current report", testNow.Add(-2*time.Hour).Format(time.RFC3339), "https://www.sec.gov/Archives/edgar/data/1/0001-index.htm", "8-K") +
			entryXML("425 - Prospectuses and communications", testNow.Add(-30*time.Hour).Format(time.RFC3339), "https://www.sec.gov/Archives/edgar/data/1/0002-index.htm", "425") +
			entryXML("10-K - Annual report", testNow.Add(-80*time.Hour).Format(time.RFC3339), "https://www.sec.gov/Archives/edgar/data/1/0003-index.htm", "10-K"),
	)
	p, mock, _ := newTestPoller(t, feed, http.StatusOK)

	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	filings, err := p.PollEntity(context.Background(), entity())
	require.NoError(t, err)
	require.Len(t, filings, 2, "entries outside the lookback window are dropped")

	assert.Equal(t, "425", filings[0].Type, "oldest first")
	assert.Equal(t, "8-K", filings[1].Type)
	assert.Equal(t, "ACME", filings[1].Ticker)
	assert.Equal(t, "1.01", filings[1].ItemNumber)
	assert.Equal(t, "https://www.sec.gov/Archives/edgar/data/1/0001-index.htm", filings[1].IndexURL)
	assert.NotEmpty(t, filings[1].ID)
}

func TestPollEntityFiltersSeenFilings(t *testing.T) {
	title := "8-K - Current report"
	updated := testNow.Add(-2 * time.Hour)
	feed := feedXML(entryXML(title, updated.Format(time.RFC3339), "https://example.com/idx", "8-K"))
	p, mock, _ := newTestPoller(t, feed, http.StatusOK)

	seenID := models.FilingID("0001234567", title, updated)
	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(fmt.Sprintf(`[%q]`, seenID))))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	filings, err := p.PollEntity(context.Background(), entity())
	require.NoError(t, err)
	assert.Empty(t, filings)
}

func TestPollEntityLookbackBoundaryIsInclusive(t *testing.T) {
	cfg := config.DefaultPollerConfig()
	boundary := testNow.Add(-cfg.LookbackWindow)
	feed := feedXML(entryXML("8-K - Current report", boundary.Format(time.RFC3339), "https://example.com/idx", "8-K"))
	p, mock, _ := newTestPoller(t, feed, http.StatusOK)

	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	filings, err := p.PollEntity(context.Background(), entity())
	require.NoError(t, err)
	assert.Len(t, filings, 1, "a filing exactly at the window edge is still new")
}

func TestPollEntitySkipsMissingCIK(t *testing.T) {
	p, _, _ := newTestPoller(t, feedXML(""), http.StatusOK)
	filings, err := p.PollEntity(context.Background(), &models.Spac{Ticker: "NOCIK"})
	require.NoError(t, err)
	assert.Empty(t, filings)
}

func TestPollSweepAlertsOnRepeatedFailures(t *testing.T) {
	p, _, alerts := newTestPoller(t, "", http.StatusNotFound)

	entities := []*models.Spac{
		{Ticker: "AAA", CIK: "1"},
		{Ticker: "BBB", CIK: "2"},
		{Ticker: "CCC", CIK: "3"},
	}
	filings := p.Poll(context.Background(), entities)
	assert.Empty(t, filings)
	assert.Equal(t, 1, *alerts,
		"three failed entity polls in one sweep must alert once")
}

func TestPollIsolatesPerEntityFailures(t *testing.T) {
	// One entity's feed is broken XML; the other still yields its filing.
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte("<feed><entry><title>broken"))
			return
		}
		_, _ = w.Write([]byte(feedXML(entryXML("8-K - Current report",
			testNow.Add(-time.Hour).Format(time.RFC3339), "https://example.com/idx", "8-K"))))
	}))
	defer srv.Close()

	p, mock, _ := newTestPoller(t, "", http.StatusOK)
	p.cfg.FeedURLTemplate = srv.URL + "/feed?cik=%s"

	mock.ExpectQuery(`SELECT value FROM state_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(`INSERT INTO state_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	filings := p.Poll(context.Background(), []*models.Spac{
		{Ticker: "BAD", CIK: "1"},
		{Ticker: "GOOD", CIK: "2"},
	})
	require.Len(t, filings, 1)
	assert.Equal(t, "GOOD", filings[0].Ticker)
}

func TestExtractItemNumber(t *testing.T) {
	assert.Equal(t, "1.01", extractItemNumber("Item 1.01 Entry into agreement"))
	assert.Equal(t, "5.02", extractItemNumber("8-K mentions Item 5.02 departures"))
	assert.Equal(t, "", extractItemNumber("no items here"))
}
