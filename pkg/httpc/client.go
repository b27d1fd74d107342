// Package httpc is the rate-limited outbound HTTP client shared by the
// filing poller and dispatcher. One token bucket per host, shared across
// the process; retries with exponential backoff on transient errors only;
// every request carries the operator's identifying User-Agent.
package httpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/spacwatch/spacwatch/pkg/config"
)

// secHost is the regulator's host, which gets its own bucket rate.
const secHost = "www.sec.gov"

// Client is the rate-limited fetcher.
type Client struct {
	httpClient *http.Client
	cfg        *config.HTTPConfig
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Client. The User-Agent is required: the regulator rejects
// anonymous crawlers.
func New(cfg *config.HTTPConfig) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("http user_agent is required (set SPACWATCH_USER_AGENT)")
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		logger:     slog.Default().With("component", "httpc"),
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// limiter returns the token bucket for a host, creating it on first use.
func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[host]; ok {
		return l
	}
	rps := c.cfg.DefaultHostRPS
	if host == secHost {
		rps = c.cfg.SECHostRPS
	}
	if override, ok := c.cfg.HostRPS[host]; ok {
		rps = override
	}
	burst := c.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	c.limiters[host] = l
	return l
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Fetch GETs a URL and returns the body and content type. Transient
// failures (timeouts, 5xx, 429) are retried with backoff; each attempt
// takes a fresh token from the host bucket.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	lim := c.limiter(u.Host)

	var body []byte
	var contentType string
	err = retry.Do(
		func() error {
			if err := lim.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			// Accept-Encoding stays unset so the transport negotiates gzip
			// and decompresses the body itself.
			req.Header.Set("User-Agent", c.cfg.UserAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return err // network errors are transient
			}
			defer func() { _ = resp.Body.Close() }()

			if transientStatus(resp.StatusCode) {
				return fmt.Errorf("server error %d for %s", resp.StatusCode, rawURL)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL))
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			body = data
			contentType = resp.Header.Get("Content-Type")
			return nil
		},
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

// FetchText fetches a document and returns plain text bounded at maxBytes.
// HTML is reduced to its visible text; other content types are returned
// as-is.
func (c *Client) FetchText(ctx context.Context, rawURL string, maxBytes int) (string, error) {
	body, contentType, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	text := string(body)
	if strings.Contains(contentType, "html") || looksLikeHTML(text) {
		if stripped, err := htmlToText(text); err == nil {
			text = stripped
		}
	}
	if maxBytes > 0 && len(text) > maxBytes {
		text = text[:maxBytes]
	}
	return text, nil
}

func looksLikeHTML(s string) bool {
	head := s
	if len(head) > 512 {
		head = head[:512]
	}
	head = strings.ToLower(head)
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// IsTransient reports whether an error from Fetch was a retryable class.
// Used by callers that track consecutive poll failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return strings.Contains(err.Error(), "server error") ||
		strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "connection")
}
