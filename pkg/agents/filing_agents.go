package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
)

// acceleratedWindow is how long a deal announcement keeps an entity on the
// fast polling cadence.
const acceleratedWindow = 48 * time.Hour

var (
	targetRe = regexp.MustCompile(
		`(?i)(?:business combination|merger|definitive)\s+agreement\s+with\s+([A-Z][A-Za-z0-9&.' -]{2,60}?)(?:\s*[(,.\n]|$)`)
	extensionDateRe = regexp.MustCompile(
		`(?i)extend(?:ed|ing|s)?[^.]{0,120}?(?:until|to|through)\s+((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4})`)
	redemptionRe = regexp.MustCompile(
		`(?i)([\d,]+)\s+(?:public\s+)?shares?\s+(?:were|have been|was)?\s*(?:validly\s+)?(?:redeemed|tendered for redemption)`)
	trustCashRe = regexp.MustCompile(
		`(?i)\$([\d,]+(?:\.\d+)?)\s*(million)?\s+(?:was\s+|is\s+)?(?:remains?\s+)?(?:held\s+)?in\s+(?:the\s+)?trust`)
)

// DealDetector watches for definitive-agreement language, stamps the deal
// facts, and accelerates polling for the entity.
type DealDetector struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
	now    func() time.Time
}

// NewDealDetector creates the agent.
func NewDealDetector(store EntityStore, notify NotifyPort) *DealDetector {
	return &DealDetector{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "DealDetector"),
		now:    time.Now,
	}
}

// Name implements FilingAgent.
func (a *DealDetector) Name() string { return "DealDetector" }

// Process implements FilingAgent.
func (a *DealDetector) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	target := extractTarget(filing.Title + "\n" + filing.Body)
	if target == "" {
		return Result{Summary: "no definitive-agreement language found"}, nil
	}

	entity, err := a.repo.ByTicker(ctx, filing.Ticker)
	if err != nil {
		return Result{}, fmt.Errorf("load entity: %w", err)
	}
	if entity.Status != models.StatusSearching {
		return Result{Summary: fmt.Sprintf("target %q mentioned but entity is %s", target, entity.Status)}, nil
	}

	until := a.now().Add(acceleratedWindow)
	changes := map[string]any{
		"target":                    target,
		"status":                    string(models.StatusAnnounced),
		"announced_date":            filing.FilingDate.UTC().Format("2006-01-02"),
		"accelerated_polling_until": until,
	}
	applied, err := a.repo.Update(ctx, filing.Ticker, changes, repo.UpdateOptions{
		Source:     a.Name(),
		FilingID:   filing.ID,
		ChangeType: "update",
	})
	if err != nil {
		return Result{}, fmt.Errorf("record deal: %w", err)
	}

	if a.notify != nil {
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "deal_announcement",
			Ticker:   filing.Ticker,
			Key:      filing.ID,
			Message:  fmt.Sprintf("%s announced a business combination with %s", filing.Ticker, target),
			Priority: models.PriorityCritical,
		})
	}
	return Result{
		Summary:       fmt.Sprintf("deal with %s recorded", target),
		ChangedFields: fieldNames(applied),
	}, nil
}

// extractTarget pulls the counterparty name from agreement language.
func extractTarget(text string) string {
	m := targetRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtensionMonitor records deadline extensions from charter amendments.
type ExtensionMonitor struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
}

// NewExtensionMonitor creates the agent.
func NewExtensionMonitor(store EntityStore, notify NotifyPort) *ExtensionMonitor {
	return &ExtensionMonitor{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "ExtensionMonitor"),
	}
}

// Name implements FilingAgent.
func (a *ExtensionMonitor) Name() string { return "ExtensionMonitor" }

// Process implements FilingAgent.
func (a *ExtensionMonitor) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	m := extensionDateRe.FindStringSubmatch(filing.Body)
	if m == nil {
		return Result{Summary: "no extension date found"}, nil
	}
	newDeadline, err := time.Parse("January 2, 2006", m[1])
	if err != nil {
		return Result{Summary: fmt.Sprintf("unparseable extension date %q", m[1])}, nil
	}

	applied, err := a.repo.Update(ctx, filing.Ticker, map[string]any{
		"deadline_date": newDeadline.Format("2006-01-02"),
	}, repo.UpdateOptions{Source: a.Name(), FilingID: filing.ID})
	if err != nil {
		return Result{}, fmt.Errorf("record extension: %w", err)
	}

	if a.notify != nil && len(applied) > 0 {
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "deadline_extension",
			Ticker:   filing.Ticker,
			Key:      filing.ID,
			Message:  fmt.Sprintf("%s extended its deadline to %s", filing.Ticker, newDeadline.Format("2006-01-02")),
			Priority: models.PriorityHigh,
		})
	}
	return Result{
		Summary:       fmt.Sprintf("deadline extended to %s", newDeadline.Format("2006-01-02")),
		ChangedFields: fieldNames(applied),
	}, nil
}

// RedemptionExtractor pulls redeemed-share counts from vote results and
// adjusts shares outstanding.
type RedemptionExtractor struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
}

// NewRedemptionExtractor creates the agent.
func NewRedemptionExtractor(store EntityStore, notify NotifyPort) *RedemptionExtractor {
	return &RedemptionExtractor{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "RedemptionExtractor"),
	}
}

// Name implements FilingAgent.
func (a *RedemptionExtractor) Name() string { return "RedemptionExtractor" }

// Process implements FilingAgent.
func (a *RedemptionExtractor) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	m := redemptionRe.FindStringSubmatch(filing.Body)
	if m == nil {
		return Result{Summary: "no redemption figures found"}, nil
	}
	redeemed, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || redeemed <= 0 {
		return Result{Summary: fmt.Sprintf("unusable redemption count %q", m[1])}, nil
	}

	entity, err := a.repo.ByTicker(ctx, filing.Ticker)
	if err != nil {
		return Result{}, fmt.Errorf("load entity: %w", err)
	}
	changes := map[string]any{}
	if entity.SharesOutstanding != nil && *entity.SharesOutstanding > redeemed {
		changes["shares_outstanding"] = *entity.SharesOutstanding - redeemed
	}
	applied, err := a.repo.Update(ctx, filing.Ticker, changes, repo.UpdateOptions{
		Source: a.Name(), FilingID: filing.ID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("record redemptions: %w", err)
	}

	if a.notify != nil {
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "redemptions",
			Ticker:   filing.Ticker,
			Key:      filing.ID,
			Message:  fmt.Sprintf("%s reported %.0f shares redeemed", filing.Ticker, redeemed),
			Priority: models.PriorityHigh,
		})
	}
	return Result{
		Summary:       fmt.Sprintf("%.0f shares redeemed", redeemed),
		ChangedFields: fieldNames(applied),
	}, nil
}

// CompletionMonitor marks a business combination as closed.
type CompletionMonitor struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
}

// NewCompletionMonitor creates the agent.
func NewCompletionMonitor(store EntityStore, notify NotifyPort) *CompletionMonitor {
	return &CompletionMonitor{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "CompletionMonitor"),
	}
}

// Name implements FilingAgent.
func (a *CompletionMonitor) Name() string { return "CompletionMonitor" }

// Process implements FilingAgent.
func (a *CompletionMonitor) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	entity, err := a.repo.ByTicker(ctx, filing.Ticker)
	if err != nil {
		return Result{}, fmt.Errorf("load entity: %w", err)
	}
	if entity.Status.Terminal() {
		return Result{Summary: "entity already terminal"}, nil
	}

	applied, err := a.repo.Update(ctx, filing.Ticker, map[string]any{
		"status":          string(models.StatusCompleted),
		"completion_date": filing.FilingDate.UTC().Format("2006-01-02"),
	}, repo.UpdateOptions{Source: a.Name(), FilingID: filing.ID})
	if err != nil {
		return Result{}, fmt.Errorf("record completion: %w", err)
	}

	if a.notify != nil {
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "deal_completed",
			Ticker:   filing.Ticker,
			Key:      filing.ID,
			Message:  fmt.Sprintf("%s completed its business combination", filing.Ticker),
			Priority: models.PriorityCritical,
		})
	}
	return Result{Summary: "completion recorded", ChangedFields: fieldNames(applied)}, nil
}

// DelistingDetector handles delisting notices and liquidation language.
type DelistingDetector struct {
	repo   EntityStore
	notify NotifyPort
	logger *slog.Logger
}

// NewDelistingDetector creates the agent.
func NewDelistingDetector(store EntityStore, notify NotifyPort) *DelistingDetector {
	return &DelistingDetector{
		repo:   store,
		notify: notify,
		logger: slog.Default().With("agent", "DelistingDetector"),
	}
}

// Name implements FilingAgent.
func (a *DelistingDetector) Name() string { return "DelistingDetector" }

// Process implements FilingAgent.
func (a *DelistingDetector) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	changes := map[string]any{
		"status": string(models.StatusDelisted),
	}
	if strings.Contains(strings.ToLower(filing.Body), "liquidat") ||
		strings.Contains(strings.ToLower(filing.Title), "liquidat") {
		changes["is_liquidating"] = true
	}
	applied, err := a.repo.Update(ctx, filing.Ticker, changes, repo.UpdateOptions{
		Source: a.Name(), FilingID: filing.ID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("record delisting: %w", err)
	}

	if a.notify != nil {
		_ = a.notify.Notify(ctx, models.Alert{
			Type:     "delisting",
			Ticker:   filing.Ticker,
			Key:      filing.ID,
			Message:  fmt.Sprintf("%s delisting notice observed", filing.Ticker),
			Priority: models.PriorityCritical,
		})
	}
	return Result{Summary: "delisting recorded", ChangedFields: fieldNames(applied)}, nil
}

// TrustAccountProcessor extracts trust balances from periodic reports.
type TrustAccountProcessor struct {
	repo   EntityStore
	logger *slog.Logger
}

// NewTrustAccountProcessor creates the agent.
func NewTrustAccountProcessor(store EntityStore) *TrustAccountProcessor {
	return &TrustAccountProcessor{
		repo:   store,
		logger: slog.Default().With("agent", "TrustAccountProcessor"),
	}
}

// Name implements FilingAgent.
func (a *TrustAccountProcessor) Name() string { return "TrustAccountProcessor" }

// Process implements FilingAgent.
func (a *TrustAccountProcessor) Process(ctx context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	m := trustCashRe.FindStringSubmatch(filing.Body)
	if m == nil {
		return Result{Summary: "no trust balance found"}, nil
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return Result{Summary: fmt.Sprintf("unusable trust figure %q", m[1])}, nil
	}
	if strings.EqualFold(m[2], "million") {
		amount *= 1_000_000
	}

	applied, err := a.repo.Update(ctx, filing.Ticker, map[string]any{
		"trust_cash": amount,
	}, repo.UpdateOptions{Source: a.Name(), FilingID: filing.ID})
	if err != nil {
		return Result{}, fmt.Errorf("record trust balance: %w", err)
	}
	return Result{
		Summary:       fmt.Sprintf("trust balance %.0f recorded", amount),
		ChangedFields: fieldNames(applied),
	}, nil
}

// passthroughAgent is a registered black box: it acknowledges the filing so
// dispatch and logging are exercised, without extraction logic.
type passthroughAgent struct {
	name   string
	logger *slog.Logger
}

func newPassthroughAgent(name string) *passthroughAgent {
	return &passthroughAgent{name: name, logger: slog.Default().With("agent", name)}
}

// Name implements FilingAgent.
func (a *passthroughAgent) Name() string { return a.name }

// Process implements FilingAgent.
func (a *passthroughAgent) Process(_ context.Context, filing *models.Filing, _ *models.Classification) (Result, error) {
	a.logger.Info("Filing acknowledged",
		"filing_id", filing.ID, "ticker", filing.Ticker, "type", filing.Type)
	return Result{Summary: "acknowledged"}, nil
}

func fieldNames(applied map[string]repo.FieldChange) []string {
	if len(applied) == 0 {
		return nil
	}
	names := make([]string, 0, len(applied))
	for f := range applied {
		names = append(names, f)
	}
	return names
}
