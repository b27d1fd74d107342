// Package poller watches each tracked entity's regulatory feed and emits
// newly-observed filings. The poller is detection only: it never marks a
// filing as seen, that happens downstream once the filing has been durably
// recorded. Its own dedup is the bounded filing.seen list plus the
// lookback window.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/httpc"
	"github.com/spacwatch/spacwatch/pkg/metrics"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// Poller fetches and filters per-entity filing feeds.
type Poller struct {
	client *httpc.Client
	store  *store.Store
	cfg    *config.PollerConfig
	alert  func(ctx context.Context, alert models.Alert)
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Poller. alert may be nil.
func New(client *httpc.Client, st *store.Store, cfg *config.PollerConfig, alert func(context.Context, models.Alert)) *Poller {
	return &Poller{
		client: client,
		store:  st,
		cfg:    cfg,
		alert:  alert,
		logger: slog.Default().With("component", "poller"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Poll sweeps the given entities in order and returns all newly-observed
// filings. A failure for one entity is logged and counted, never fatal for
// the sweep; when failures within a single sweep reach the configured
// threshold an operator alert is raised.
func (p *Poller) Poll(ctx context.Context, entities []*models.Spac) []models.Filing {
	var filings []models.Filing
	var failures int

	for i, entity := range entities {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			p.sleep(ctx, p.cfg.InterRequestSleep)
		}
		found, err := p.PollEntity(ctx, entity)
		if err != nil {
			failures++
			metrics.PollErrors.Inc()
			p.logger.Error("Entity poll failed",
				"ticker", entity.Ticker, "error", err)
			continue
		}
		filings = append(filings, found...)
	}

	if failures >= p.cfg.ErrorAlertThreshold && p.alert != nil {
		p.alert(ctx, models.Alert{
			Type:     "poll_failures",
			Key:      "sweep",
			Message:  fmt.Sprintf("%d of %d entity polls failed this sweep", failures, len(entities)),
			Priority: models.PriorityHigh,
		})
	}
	return filings
}

// PollEntity fetches one entity's feed and returns its new filings, oldest
// first. New means inside the lookback window and not in the seen list.
func (p *Poller) PollEntity(ctx context.Context, entity *models.Spac) ([]models.Filing, error) {
	if entity.CIK == "" {
		p.logger.Warn("Entity has no CIK, skipping poll", "ticker", entity.Ticker)
		return nil, nil
	}

	feedURL := fmt.Sprintf(p.cfg.FeedURLTemplate, entity.CIK)
	body, _, err := p.client.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	feed, err := parseFeed(body)
	if err != nil {
		return nil, err
	}

	seen, err := p.store.GetStringList(ctx, store.NSFilingSeen, entity.Ticker)
	if err != nil {
		return nil, fmt.Errorf("load seen list: %w", err)
	}
	seenSet := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}

	now := p.now()
	cutoff := now.Add(-p.cfg.LookbackWindow)
	var filings []models.Filing

	for i := len(feed.Entries) - 1; i >= 0; i-- {
		entry := feed.Entries[i]
		ts, err := entry.updatedTime()
		if err != nil {
			p.logger.Warn("Skipping feed entry with bad timestamp",
				"ticker", entity.Ticker, "title", entry.Title, "error", err)
			continue
		}
		// Lookback lower bound is inclusive.
		if ts.Before(cutoff) {
			continue
		}
		id := models.FilingID(entity.CIK, entry.Title, ts)
		if _, ok := seenSet[id]; ok {
			continue
		}

		filings = append(filings, models.Filing{
			ID:         id,
			Ticker:     entity.Ticker,
			CIK:        entity.CIK,
			Type:       entry.filingType(),
			ItemNumber: extractItemNumber(entry.Title + " " + entry.Summary),
			Title:      entry.Title,
			FilingDate: ts,
			IndexURL:   entry.indexURL(),
			DetectedAt: now,
		})
	}

	if err := p.store.Put(ctx, store.NSFilingCursor, entity.Ticker, now); err != nil {
		p.logger.Warn("Failed to record poll cursor",
			"ticker", entity.Ticker, "error", err)
	}
	if len(filings) > 0 {
		metrics.FilingsDetected.Add(float64(len(filings)))
		p.logger.Info("New filings observed",
			"ticker", entity.Ticker, "count", len(filings))
	}
	return filings, nil
}
