// Package models defines the domain types shared across spacwatch components.
package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a tracked SPAC.
type Status string

// SPAC lifecycle states.
const (
	StatusSearching  Status = "searching"
	StatusAnnounced  Status = "announced"
	StatusCompleted  Status = "completed"
	StatusLiquidated Status = "liquidated"
	StatusDelisted   Status = "delisted"
)

// Validate returns an error if the status is not a known lifecycle state.
func (s Status) Validate() error {
	switch s {
	case StatusSearching, StatusAnnounced, StatusCompleted, StatusLiquidated, StatusDelisted:
		return nil
	}
	return fmt.Errorf("unknown status: %q", s)
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusLiquidated || s == StatusDelisted
}

// Spac is a tracked entity. Ticker is the unique identity; CIK is the
// optional external registry identifier.
//
// Date fields are flexible: either an ISO date ("2026-03-15") or a free-form
// label ("Q4 2025"). Use ParseFlexibleDate to obtain a time.Time where one
// exists; ordering rules only apply between fields that parse.
type Spac struct {
	Ticker string
	CIK    string
	Name   string
	Status Status

	IPODate        string
	AnnouncedDate  string
	DeadlineDate   string
	VoteDate       string
	CompletionDate string

	Price             *float64
	CommonPrice       *float64
	UnitPrice         *float64
	TrustPerShare     *float64
	TrustCash         *float64
	SharesOutstanding *float64
	MarketCap         *float64
	Premium           *float64
	IPOProceeds       string

	Target string

	IsLiquidating           bool
	AcceleratedPollingUntil *time.Time

	LastUpdated   time.Time
	LastScrapedAt time.Time
}

// flexibleDateLayouts are accepted ISO-ish forms for flexible date fields.
var flexibleDateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "01/02/2006"}

// ParseFlexibleDate parses a flexible date field. The second return is false
// when the value is empty or a free-form label such as "Q4 2025".
func ParseFlexibleDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ComputePremium returns (price - trust) / trust as a percentage, or false
// when either component is missing or trust is zero.
func (s *Spac) ComputePremium() (float64, bool) {
	if s.Price == nil || s.TrustPerShare == nil || *s.TrustPerShare == 0 {
		return 0, false
	}
	return (*s.Price - *s.TrustPerShare) / *s.TrustPerShare * 100, true
}

// PollingAccelerated reports whether the entity is currently in the
// accelerated polling window.
func (s *Spac) PollingAccelerated(now time.Time) bool {
	return s.AcceleratedPollingUntil != nil && s.AcceleratedPollingUntil.After(now)
}
