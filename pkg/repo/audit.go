package repo

import (
	"context"
	"time"
)

// AuditRow is one recorded field change.
type AuditRow struct {
	Ticker     string
	Field      string
	Old        string
	New        string
	Source     string
	FilingID   string
	ChangeType string
	ChangedAt  time.Time
}

// audit writes one orchestrator_changes row per applied field. Audit is
// best-effort: failures are logged and never surface to the caller, so a
// broken audit path cannot block the primary mutation.
func (r *Repository) audit(ctx context.Context, ticker string, applied map[string]FieldChange, opts UpdateOptions) {
	changeType := opts.ChangeType
	if changeType == "" {
		changeType = "update"
	}
	for field, change := range applied {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO orchestrator_changes (ticker, field, old_value, new_value, source, filing_id, change_type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ticker, field, change.Old, change.New, opts.Source, opts.FilingID, changeType)
		if err != nil {
			r.logger.Error("Audit write failed",
				"ticker", ticker, "field", field, "error", err)
		}
	}
}

// RecentChanges returns the most recent audit rows for a ticker, newest
// first.
func (r *Repository) RecentChanges(ctx context.Context, ticker string, limit int) ([]AuditRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ticker, field, old_value, new_value, source, filing_id, change_type, changed_at
		 FROM orchestrator_changes WHERE ticker = $1
		 ORDER BY changed_at DESC, id DESC LIMIT $2`,
		ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.Ticker, &a.Field, &a.Old, &a.New, &a.Source, &a.FilingID, &a.ChangeType, &a.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
