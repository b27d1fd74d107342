package httpc

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
)

func testConfig() *config.HTTPConfig {
	cfg := config.DefaultHTTPConfig()
	cfg.UserAgent = "spacwatch-test admin@example.com"
	cfg.DefaultHostRPS = 1000 // keep unit tests fast
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestClient(t *testing.T, cfg *config.HTTPConfig) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNewRequiresUserAgent(t *testing.T) {
	cfg := testConfig()
	cfg.UserAgent = ""
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_agent")
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	body, _, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "spacwatch-test admin@example.com", gotUA.Load())
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	body, _, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	_, _, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestFetchHonorsHostRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.DefaultHostRPS = 20
	cfg.Burst = 1
	c := newTestClient(t, cfg)

	// Three sequential requests at 20 rps need two token waits, so the
	// elapsed time must be at least ~100ms.
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := c.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestFetchDecompressesGzipResponses(t *testing.T) {
	const plain = "Merger Agreement signed today"
	var gotAE atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAE.Store(r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/plain")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(plain))
		_ = gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	body, _, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, plain, string(body), "gzipped body must arrive decompressed")
	assert.Contains(t, gotAE.Load().(string), "gzip",
		"the transport negotiates the encoding itself")

	text, err := c.FetchText(context.Background(), srv.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, plain, text)
}

func TestFetchTextStripsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><style>p{color:red}</style></head>
			<body><p>Merger   Agreement</p><script>alert(1)</script><p>signed today</p></body></html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	text, err := c.FetchText(context.Background(), srv.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, "Merger Agreement signed today", text)
}

func TestFetchTextTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	text, err := c.FetchText(context.Background(), srv.URL, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", text)
}
