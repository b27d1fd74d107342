package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades a validation issue.
type Severity string

// Issue severities, worst first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
)

// Confidence classifies how safe an automatic fix would be. Only high
// confidence (deterministic recomputation) is ever auto-applied.
type Confidence string

// Fix confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ResearchFindings is an optional research attachment produced by the web
// research collaborator for a low-confidence issue.
type ResearchFindings struct {
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

// IssueStatus is the terminal disposition of a reviewed issue.
type IssueStatus string

// Review dispositions. An issue transitions at most once to a terminal state.
const (
	IssuePending  IssueStatus = "pending"
	IssueApproved IssueStatus = "approved"
	IssueSkipped  IssueStatus = "skipped"
	IssueModified IssueStatus = "modified"
)

// Issue is one data-quality finding for one field of one entity.
type Issue struct {
	ID       string             `json:"id"`
	Ticker   string             `json:"ticker"`
	Field    string             `json:"field"`
	Rule     string             `json:"rule"`
	Severity Severity           `json:"severity"`
	Category string             `json:"category"`
	Message  string             `json:"message"`
	Actual   string             `json:"actual"`
	Expected string             `json:"expected"`

	SuggestedFix string            `json:"suggested_fix,omitempty"`
	AutoFix      string            `json:"auto_fix,omitempty"` // fix template id
	Confidence   Confidence        `json:"confidence,omitempty"`
	Research     *ResearchFindings `json:"research,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	Status    IssueStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewIssue creates a pending issue with a generated id.
func NewIssue(ticker, field, rule string, severity Severity, category string) *Issue {
	return &Issue{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		Field:     field,
		Rule:      rule,
		Severity:  severity,
		Category:  category,
		Status:    IssuePending,
		CreatedAt: time.Now(),
	}
}
