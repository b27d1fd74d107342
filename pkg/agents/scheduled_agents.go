package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/prices"
	"github.com/spacwatch/spacwatch/pkg/repo"
)

// premiumAlertThreshold is the premium percentage above which an entity is
// flagged as trading rich to trust.
const premiumAlertThreshold = 10.0

// Sender posts operator-facing text. Satisfied by the chat transport.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// PriceUpdater refreshes quotes for every active entity through the
// repository, so each move is audited and the premium stays consistent.
type PriceUpdater struct {
	repo   EntityStore
	source prices.PriceSource
	logger *slog.Logger
}

// NewPriceUpdater creates the agent.
func NewPriceUpdater(store EntityStore, source prices.PriceSource) *PriceUpdater {
	return &PriceUpdater{
		repo:   store,
		source: source,
		logger: slog.Default().With("agent", "PriceUpdater"),
	}
}

// Name implements ScheduledAgent.
func (a *PriceUpdater) Name() string { return "PriceUpdater" }

// Run implements ScheduledAgent.
func (a *PriceUpdater) Run(ctx context.Context) (Result, error) {
	entities, err := a.repo.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list entities: %w", err)
	}

	var updated int
	for _, entity := range entities {
		quote, err := a.source.Current(ctx, entity.Ticker)
		if err != nil {
			a.logger.Warn("No quote for entity",
				"ticker", entity.Ticker, "error", err)
			continue
		}
		applied, err := a.repo.Update(ctx, entity.Ticker, map[string]any{
			"price":           quote.Price,
			"last_scraped_at": quote.Time,
		}, repo.UpdateOptions{Source: a.Name()})
		if err != nil {
			a.logger.Error("Price update failed",
				"ticker", entity.Ticker, "error", err)
			continue
		}
		if len(applied) > 0 {
			updated++
		}
	}
	return Result{Summary: fmt.Sprintf("%d of %d prices updated", updated, len(entities))}, nil
}

// PremiumAlerter flags entities trading rich to their trust value.
type PremiumAlerter struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
}

// NewPremiumAlerter creates the agent.
func NewPremiumAlerter(store EntityStore, notify NotifyPort) *PremiumAlerter {
	return &PremiumAlerter{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "PremiumAlerter"),
	}
}

// Name implements ScheduledAgent.
func (a *PremiumAlerter) Name() string { return "PremiumAlerter" }

// Run implements ScheduledAgent.
func (a *PremiumAlerter) Run(ctx context.Context) (Result, error) {
	entities, err := a.repo.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list entities: %w", err)
	}

	var flagged int
	for _, entity := range entities {
		if entity.Premium == nil || *entity.Premium < premiumAlertThreshold {
			continue
		}
		flagged++
		if a.notify == nil {
			continue
		}
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "premium_spike",
			Ticker:   entity.Ticker,
			Key:      "premium",
			Message:  fmt.Sprintf("%s trades %.1f%% above trust value", entity.Ticker, *entity.Premium),
			Priority: models.PriorityHigh,
		})
	}
	return Result{Summary: fmt.Sprintf("%d entities above %.0f%% premium", flagged, premiumAlertThreshold)}, nil
}

// DailyDigest composes the end-of-day portfolio summary and sends it over
// chat.
type DailyDigest struct {
	repo   EntityStore
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

// NewDailyDigest creates the agent.
func NewDailyDigest(store EntityStore, sender Sender) *DailyDigest {
	return &DailyDigest{
		repo:   store,
		sender: sender,
		logger: slog.Default().With("agent", "DailyDigest"),
		now:    time.Now,
	}
}

// Name implements ScheduledAgent.
func (a *DailyDigest) Name() string { return "DailyDigest" }

// Run implements ScheduledAgent.
func (a *DailyDigest) Run(ctx context.Context) (Result, error) {
	entities, err := a.repo.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list entities: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Daily digest %s*\n", a.now().Format("2006-01-02"))
	byStatus := map[models.Status]int{}
	for _, e := range entities {
		byStatus[e.Status]++
	}
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "%s: %d\n", s, byStatus[models.Status(s)])
	}
	for _, e := range entities {
		if e.Status != models.StatusAnnounced {
			continue
		}
		fmt.Fprintf(&b, "• %s → %s", e.Ticker, e.Target)
		if e.VoteDate != "" {
			fmt.Fprintf(&b, " (vote %s)", e.VoteDate)
		}
		b.WriteString("\n")
	}

	if a.sender != nil {
		if err := a.sender.Send(ctx, b.String()); err != nil {
			return Result{}, fmt.Errorf("send digest: %w", err)
		}
	}
	return Result{Summary: fmt.Sprintf("digest covering %d entities sent", len(entities))}, nil
}

// noopScheduledAgent is a registered cadence slot whose real work is out of
// scope for this revision. It keeps scheduling, status lines, and advisory
// output exercised.
type noopScheduledAgent struct {
	name   string
	logger *slog.Logger
}

func newNoopScheduledAgent(name string) *noopScheduledAgent {
	return &noopScheduledAgent{name: name, logger: slog.Default().With("agent", name)}
}

// Name implements ScheduledAgent.
func (a *noopScheduledAgent) Name() string { return a.name }

// Run implements ScheduledAgent.
func (a *noopScheduledAgent) Run(context.Context) (Result, error) {
	a.logger.Info("Cadence slot executed")
	return Result{Summary: "no-op"}, nil
}
