package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/metrics"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// Notifier delivers alerts through the chat transport with cooldown-based
// deduplication. The last-sent timestamp per dedup key is persisted so the
// cooldown survives restarts.
type Notifier struct {
	transport Transport
	store     *store.Store
	cfg       *config.AlertsConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(transport Transport, st *store.Store, cfg *config.AlertsConfig) *Notifier {
	return &Notifier{
		transport: transport,
		store:     st,
		cfg:       cfg,
		logger:    slog.Default().With("component", "notifier"),
		now:       time.Now,
	}
}

// Notify sends one alert unless the same (type, ticker, key) was sent
// within the cooldown window. Suppression is logged, never silent.
func (n *Notifier) Notify(ctx context.Context, alert models.Alert) error {
	key := alert.DedupKey()
	now := n.now()

	var lastSent time.Time
	err := n.store.Get(ctx, store.NSAlertDedup, key, &lastSent)
	if err != nil && err != store.ErrNotFound {
		// A broken dedup read must not swallow the alert.
		n.logger.Warn("Alert dedup lookup failed, sending anyway",
			"key", key, "error", err)
	}
	if err == nil && now.Sub(lastSent) < n.cfg.DedupCooldown {
		n.logger.Info("Alert suppressed by cooldown",
			"key", key, "last_sent", lastSent)
		return nil
	}

	if err := n.transport.Send(ctx, FormatAlert(alert)); err != nil {
		return fmt.Errorf("send alert %s: %w", key, err)
	}
	metrics.AlertsSent.Inc()
	if err := n.store.Put(ctx, store.NSAlertDedup, key, now); err != nil {
		n.logger.Warn("Failed to record alert dedup timestamp",
			"key", key, "error", err)
	}
	return nil
}

// AlertFunc adapts the Notifier for components that take a plain callback.
func (n *Notifier) AlertFunc() func(ctx context.Context, alert models.Alert) {
	return func(ctx context.Context, alert models.Alert) {
		if err := n.Notify(ctx, alert); err != nil {
			n.logger.Error("Alert delivery failed",
				"type", alert.Type, "ticker", alert.Ticker, "error", err)
		}
	}
}

// FormatAlert renders an alert as an operator chat message.
func FormatAlert(alert models.Alert) string {
	var b strings.Builder
	switch alert.Priority {
	case models.PriorityCritical:
		b.WriteString("🚨 ")
	case models.PriorityHigh:
		b.WriteString("⚠️ ")
	default:
		b.WriteString("ℹ️ ")
	}
	b.WriteString("*")
	b.WriteString(strings.ToUpper(strings.ReplaceAll(alert.Type, "_", " ")))
	b.WriteString("*")
	if alert.Ticker != "" {
		b.WriteString(" [" + alert.Ticker + "]")
	}
	b.WriteString("\n")
	b.WriteString(alert.Message)
	return b.String()
}
