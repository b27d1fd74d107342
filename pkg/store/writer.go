package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// AlertFunc delivers an operator alert. Injected by the orchestrator so the
// store does not depend on the chat transport.
type AlertFunc func(ctx context.Context, alert models.Alert)

// MonitoredWriter wraps Store writes with persistent failure tracking.
// Failures land in database_write_failures; a critical namespace failing
// the configured number of times within the rolling window raises an
// operator alert. Non-critical failures are logged without alert.
type MonitoredWriter struct {
	store     *Store
	db        *sql.DB
	critical  map[string]bool
	threshold int
	window    time.Duration
	alert     AlertFunc
	logger    *slog.Logger
}

// NewMonitoredWriter creates a monitored writer. criticalNamespaces names
// the namespaces whose repeated failures escalate (deal updates, trust
// updates, redemption updates). alert may be nil.
func NewMonitoredWriter(s *Store, criticalNamespaces []string, threshold int, window time.Duration, alert AlertFunc) *MonitoredWriter {
	critical := make(map[string]bool, len(criticalNamespaces))
	for _, ns := range criticalNamespaces {
		critical[ns] = true
	}
	return &MonitoredWriter{
		store:     s,
		db:        s.db,
		critical:  critical,
		threshold: threshold,
		window:    window,
		alert:     alert,
		logger:    slog.Default().With("component", "monitored-writer"),
	}
}

// Put writes through to the store, recording any failure.
func (w *MonitoredWriter) Put(ctx context.Context, namespace, key string, value any) error {
	err := w.store.Put(ctx, namespace, key, value)
	if err != nil {
		w.recordFailure(ctx, namespace, key, "put", err)
	}
	return err
}

// AppendBounded writes through to the store, recording any failure.
func (w *MonitoredWriter) AppendBounded(ctx context.Context, namespace, key, value string, maxLen int) error {
	err := w.store.AppendBounded(ctx, namespace, key, value, maxLen)
	if err != nil {
		w.recordFailure(ctx, namespace, key, "append", err)
	}
	return err
}

// recordFailure persists the failure and escalates critical namespaces that
// keep failing. Recording is itself best-effort: if the database is down,
// the failure is only logged.
func (w *MonitoredWriter) recordFailure(ctx context.Context, namespace, key, op string, cause error) {
	isCritical := w.critical[namespace]
	w.logger.Error("Durable write failed",
		"namespace", namespace, "key", key, "op", op,
		"critical", isCritical, "error", cause)

	_, err := w.db.ExecContext(ctx,
		`INSERT INTO database_write_failures (namespace, key, operation, error, critical)
		 VALUES ($1, $2, $3, $4, $5)`,
		namespace, key, op, cause.Error(), isCritical)
	if err != nil {
		w.logger.Error("Failed to record write failure", "error", err)
		return
	}

	if !isCritical {
		return
	}

	var count int
	err = w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM database_write_failures
		 WHERE namespace = $1 AND critical AND occurred_at > now() - $2::interval`,
		namespace, w.window.String()).Scan(&count)
	if err != nil {
		w.logger.Error("Failed to count recent write failures", "error", err)
		return
	}

	if count >= w.threshold && w.alert != nil {
		w.alert(ctx, models.Alert{
			Type:     "critical_write_failure",
			Key:      namespace,
			Priority: models.PriorityCritical,
			Message: fmt.Sprintf("Critical database writes to %s failed %d times within %v",
				namespace, count, w.window),
		})
	}
}
