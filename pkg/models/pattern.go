package models

import "time"

// PatternRecord tracks a recurring validation-error class across sweeps.
// Promotion above the configured threshold yields an advisory code-fix
// proposal; it never auto-applies anything.
type PatternRecord struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Tickers   []string  `json:"tickers"`
	Examples  []string  `json:"examples"`
}

// CodeFixProposal is an advisory systemic-fix suggestion generated when a
// pattern crosses its threshold. Requires explicit operator approval.
type CodeFixProposal struct {
	PatternKey      string    `json:"pattern_key"`
	RootCause       string    `json:"root_cause"`
	AffectedFiles   []string  `json:"affected_files"`
	Description     string    `json:"description"`
	Confidence      float64   `json:"confidence"`
	TestSuggestions []string  `json:"test_suggestions"`
	CreatedAt       time.Time `json:"created_at"`
}
