package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// ErrUnknownField is returned for a mutation outside the field whitelist.
var ErrUnknownField = errors.New("unknown entity field")

// mutableFields maps field names to their columns. Mutations outside this
// set are rejected.
var mutableFields = map[string]string{
	"cik":                       "cik",
	"name":                      "name",
	"status":                    "status",
	"ipo_date":                  "ipo_date",
	"announced_date":            "announced_date",
	"deadline_date":             "deadline_date",
	"vote_date":                 "vote_date",
	"completion_date":           "completion_date",
	"price":                     "price",
	"common_price":              "common_price",
	"unit_price":                "unit_price",
	"trust_per_share":           "trust_per_share",
	"trust_cash":                "trust_cash",
	"shares_outstanding":        "shares_outstanding",
	"market_cap":                "market_cap",
	"premium":                   "premium",
	"ipo_proceeds":              "ipo_proceeds",
	"target":                    "target",
	"is_liquidating":            "is_liquidating",
	"accelerated_polling_until": "accelerated_polling_until",
	"last_scraped_at":           "last_scraped_at",
}

// UpdateOptions carries audit metadata for a mutation.
type UpdateOptions struct {
	Source     string // agent or component name
	FilingID   string // source filing, when filing-driven
	ChangeType string // update (default), fix, rollback
}

// FieldChange records one audited field transition.
type FieldChange struct {
	Old string
	New string
}

// Update applies the given field changes to one entity inside a single
// transaction, serialized per ticker by an advisory lock. When price or
// trust_per_share change and premium was not set explicitly, premium is
// recomputed. Returns the map of applied changes (unchanged values are
// dropped). Audit rows are written after commit, best-effort.
func (r *Repository) Update(ctx context.Context, ticker string, changes map[string]any, opts UpdateOptions) (map[string]FieldChange, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	for field := range changes {
		if _, ok := mutableFields[field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update %s: begin: %w", ticker, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize concurrent mutators of the same ticker. Released at
	// commit/rollback.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, ticker); err != nil {
		return nil, fmt.Errorf("update %s: lock: %w", ticker, err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+spacColumns+` FROM spacs WHERE ticker = $1 FOR UPDATE`, ticker)
	current, err := scanSpac(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: load: %w", ticker, err)
	}

	applied := make(map[string]FieldChange)
	setClauses := make([]string, 0, len(changes)+2)
	args := []any{ticker}

	addSet := func(field string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", mutableFields[field], len(args)))
	}

	for field, value := range changes {
		oldVal := fieldValue(current, field)
		newVal := formatValue(value)
		if oldVal == newVal {
			continue
		}
		applied[field] = FieldChange{Old: oldVal, New: newVal}
		addSet(field, value)
	}

	// Keep the premium invariant when price components move.
	_, priceChanged := applied["price"]
	_, trustChanged := applied["trust_per_share"]
	if _, explicit := changes["premium"]; (priceChanged || trustChanged) && !explicit {
		if premium, ok := recomputePremium(current, changes); ok {
			applied["premium"] = FieldChange{Old: fieldValue(current, "premium"), New: formatValue(premium)}
			addSet("premium", premium)
		}
	}

	if len(applied) == 0 {
		return nil, nil
	}

	setClauses = append(setClauses, "last_updated = now()")
	query := fmt.Sprintf(`UPDATE spacs SET %s WHERE ticker = $1`, strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update %s: %w", ticker, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update %s: commit: %w", ticker, err)
	}

	r.audit(ctx, ticker, applied, opts)
	return applied, nil
}

// recomputePremium evaluates the premium from the post-change price and
// trust values.
func recomputePremium(current *models.Spac, changes map[string]any) (float64, bool) {
	price := current.Price
	trust := current.TrustPerShare
	if v, ok := changes["price"]; ok {
		if f, ok := toFloat(v); ok {
			price = &f
		}
	}
	if v, ok := changes["trust_per_share"]; ok {
		if f, ok := toFloat(v); ok {
			trust = &f
		}
	}
	if price == nil || trust == nil || *trust == 0 {
		return 0, false
	}
	return (*price - *trust) / *trust * 100, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case *float64:
		if x == nil {
			return 0, false
		}
		return *x, true
	}
	return 0, false
}

// fieldValue renders the current value of a field for audit comparison.
func fieldValue(s *models.Spac, field string) string {
	switch field {
	case "cik":
		return s.CIK
	case "name":
		return s.Name
	case "status":
		return string(s.Status)
	case "ipo_date":
		return s.IPODate
	case "announced_date":
		return s.AnnouncedDate
	case "deadline_date":
		return s.DeadlineDate
	case "vote_date":
		return s.VoteDate
	case "completion_date":
		return s.CompletionDate
	case "price":
		return formatValue(s.Price)
	case "common_price":
		return formatValue(s.CommonPrice)
	case "unit_price":
		return formatValue(s.UnitPrice)
	case "trust_per_share":
		return formatValue(s.TrustPerShare)
	case "trust_cash":
		return formatValue(s.TrustCash)
	case "shares_outstanding":
		return formatValue(s.SharesOutstanding)
	case "market_cap":
		return formatValue(s.MarketCap)
	case "premium":
		return formatValue(s.Premium)
	case "ipo_proceeds":
		return s.IPOProceeds
	case "target":
		return s.Target
	case "is_liquidating":
		return formatValue(s.IsLiquidating)
	case "accelerated_polling_until":
		return formatValue(s.AcceleratedPollingUntil)
	case "last_scraped_at":
		return formatValue(s.LastScrapedAt)
	}
	return ""
}

// formatValue renders a change value for audit rows.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *float64:
		if x == nil {
			return ""
		}
		return fmt.Sprintf("%g", *x)
	case float64:
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
