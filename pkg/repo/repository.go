// Package repo is the query and mutation interface to the tracked-entity
// table. Every field change flows through Update so that each mutation
// leaves an audit row; concurrent mutation of one ticker is serialized by a
// Postgres advisory lock taken inside the mutating transaction.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// ErrNotFound is returned when no entity matches the lookup.
var ErrNotFound = errors.New("entity not found")

// Repository provides access to the spacs table.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Repository over the given database connection.
func New(db *sql.DB) *Repository {
	return &Repository{
		db:     db,
		logger: slog.Default().With("component", "entity-repo"),
	}
}

const spacColumns = `ticker, cik, name, status,
	ipo_date, announced_date, deadline_date, vote_date, completion_date,
	price, common_price, unit_price, trust_per_share, trust_cash,
	shares_outstanding, market_cap, premium, ipo_proceeds, target,
	is_liquidating, accelerated_polling_until, last_updated, last_scraped_at`

func scanSpac(row interface{ Scan(...any) error }) (*models.Spac, error) {
	var s models.Spac
	var status string
	var lastScraped, accelerated sql.NullTime
	err := row.Scan(
		&s.Ticker, &s.CIK, &s.Name, &status,
		&s.IPODate, &s.AnnouncedDate, &s.DeadlineDate, &s.VoteDate, &s.CompletionDate,
		&s.Price, &s.CommonPrice, &s.UnitPrice, &s.TrustPerShare, &s.TrustCash,
		&s.SharesOutstanding, &s.MarketCap, &s.Premium, &s.IPOProceeds, &s.Target,
		&s.IsLiquidating, &accelerated, &s.LastUpdated, &lastScraped,
	)
	if err != nil {
		return nil, err
	}
	s.Status = models.Status(status)
	if accelerated.Valid {
		s.AcceleratedPollingUntil = &accelerated.Time
	}
	if lastScraped.Valid {
		s.LastScrapedAt = lastScraped.Time
	}
	return &s, nil
}

// ByTicker returns the entity with the given ticker.
func (r *Repository) ByTicker(ctx context.Context, ticker string) (*models.Spac, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+spacColumns+` FROM spacs WHERE ticker = $1`, ticker)
	s, err := scanSpac(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ticker %s: %w", ticker, err)
	}
	return s, nil
}

// ByCIK returns the entity with the given external identifier.
func (r *Repository) ByCIK(ctx context.Context, cik string) (*models.Spac, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+spacColumns+` FROM spacs WHERE cik = $1`, cik)
	s, err := scanSpac(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cik %s: %w", cik, err)
	}
	return s, nil
}

// ListByStatus returns all entities whose status is in the given set,
// ordered by ticker.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Spac, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	placeholders := ""
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+spacColumns+` FROM spacs WHERE status IN (`+placeholders+`) ORDER BY ticker`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListActive returns the non-terminal entities (searching or announced),
// the set the filing poller iterates.
func (r *Repository) ListActive(ctx context.Context) ([]*models.Spac, error) {
	return r.ListByStatus(ctx, models.StatusSearching, models.StatusAnnounced)
}

// ListAll returns every tracked entity.
func (r *Repository) ListAll(ctx context.Context) ([]*models.Spac, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+spacColumns+` FROM spacs ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// AcceleratedTickers returns tickers whose accelerated_polling_until is in
// the future. Consulted on every scheduler tick.
func (r *Repository) AcceleratedTickers(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ticker FROM spacs WHERE accelerated_polling_until > $1 ORDER BY ticker`, now)
	if err != nil {
		return nil, fmt.Errorf("list accelerated: %w", err)
	}
	defer rows.Close()
	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func collect(rows *sql.Rows) ([]*models.Spac, error) {
	var out []*models.Spac
	for rows.Next() {
		s, err := scanSpac(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create inserts a new tracked entity. Used by the IPO-detection path.
func (r *Repository) Create(ctx context.Context, s *models.Spac) error {
	if err := s.Status.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spacs (ticker, cik, name, status, ipo_date, ipo_proceeds, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		s.Ticker, s.CIK, s.Name, string(s.Status), s.IPODate, s.IPOProceeds)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.Ticker, err)
	}
	return nil
}
