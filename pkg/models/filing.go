package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Exhibit is a single exhibit attached to a filing index.
type Exhibit struct {
	Number      string `json:"number"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Filing is an externally-published regulatory document observed by the
// poller. Immutable after creation; deduplicated globally by ID.
type Filing struct {
	ID         string
	Ticker     string
	CIK        string
	Type       string
	ItemNumber string
	Title      string
	FilingDate time.Time

	IndexURL      string
	PrimaryDocURL string
	Body          string
	Exhibits      []Exhibit

	DetectedAt     time.Time
	Classification *Classification
}

// FilingID derives the stable entity-scoped filing identity from
// (cik, title, filing date truncated to day). The same filing observed on
// two different polls hashes to the same id.
func FilingID(cik, title string, date time.Time) string {
	day := date.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(cik + "|" + title + "|" + day))
	return hex.EncodeToString(sum[:])[:16]
}

// Priority orders work. Critical sorts first.
type Priority string

// Task and classification priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of the priority; lower runs first. Unknown
// priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Validate returns an error for unknown priorities.
func (p Priority) Validate() error {
	if p.Rank() == 4 {
		return fmt.Errorf("unknown priority: %q", p)
	}
	return nil
}

// Classification is the routing decision attached to a filing before
// dispatch: priority, the ordered list of agents to run, a human-readable
// tag, and a short summary.
type Classification struct {
	Priority     Priority `json:"priority"`
	AgentsNeeded []string `json:"agents_needed"`
	Tag          string   `json:"tag"`
	Summary      string   `json:"summary"`
	Source       string   `json:"source"` // "rules" or "llm"
}
