// Package improve closes the learning loop: it tracks recurring error
// patterns, generates advisory code-improvement proposals once a pattern
// crosses its threshold, and applies an approved proposal with per-file
// backups. No code is ever modified without an explicit approval.
package improve

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
)

const (
	maxExamples    = 10
	backupSuffix   = ".bak"
	proposalTokens = 600
)

// ErrNotProposed means the improvement id does not exist or is not in the
// proposed state.
var ErrNotProposed = errors.New("improvement is not awaiting approval")

// Sender delivers proposals to the operator chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Pattern is one learning record in error_patterns.
type Pattern struct {
	Key       string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
	Tickers   []string
	Examples  []string
}

// Patch is one suggested file change within a proposal.
type Patch struct {
	File    string `json:"file"`
	Content string `json:"content,omitempty"`
}

// Proposal is an advisory code-improvement record.
type Proposal struct {
	ID              int64    `json:"id"`
	PatternKey      string   `json:"pattern_key"`
	RootCause       string   `json:"root_cause"`
	Description     string   `json:"description"`
	AffectedFiles   []string `json:"affected_files"`
	Confidence      float64  `json:"confidence"`
	TestSuggestions []string `json:"test_suggestions,omitempty"`
	Patches         []Patch  `json:"patches,omitempty"`
	Status          string   `json:"status"`
}

// Tracker owns the learning record and the proposal lifecycle.
type Tracker struct {
	db     *sql.DB
	llm    llm.Client // nil falls back to the rule-based root cause
	sender Sender     // nil skips chat delivery
	cfg    *config.ImproveConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker wires the improvement tracker. model and sender may be nil.
func NewTracker(db *sql.DB, model llm.Client, sender Sender, cfg *config.ImproveConfig) *Tracker {
	return &Tracker{
		db:     db,
		llm:    model,
		sender: sender,
		cfg:    cfg,
		logger: slog.Default().With("component", "improve"),
		now:    time.Now,
	}
}

// Record registers one occurrence of a pattern. The ticker set is kept
// unique and the example list bounded.
func (t *Tracker) Record(ctx context.Context, patternKey, ticker, example string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record pattern: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	var tickersRaw, examplesRaw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT occurrence_count, tickers, examples FROM error_patterns
		 WHERE pattern_key = $1 FOR UPDATE`, patternKey).
		Scan(&count, &tickersRaw, &examplesRaw)
	var tickers, examples []string
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First occurrence.
	case err != nil:
		return fmt.Errorf("record pattern: read: %w", err)
	default:
		if err := json.Unmarshal(tickersRaw, &tickers); err != nil {
			return fmt.Errorf("record pattern: decode tickers: %w", err)
		}
		if err := json.Unmarshal(examplesRaw, &examples); err != nil {
			return fmt.Errorf("record pattern: decode examples: %w", err)
		}
	}

	if ticker != "" && !contains(tickers, ticker) {
		tickers = append(tickers, ticker)
	}
	if example != "" {
		examples = append(examples, example)
		if len(examples) > maxExamples {
			examples = examples[len(examples)-maxExamples:]
		}
	}
	tickersOut, _ := json.Marshal(tickers)
	examplesOut, _ := json.Marshal(examples)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO error_patterns (pattern_key, occurrence_count, tickers, examples)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (pattern_key) DO UPDATE
		 SET occurrence_count = error_patterns.occurrence_count + 1,
		     last_seen = now(), tickers = $2, examples = $3`,
		patternKey, tickersOut, examplesOut); err != nil {
		return fmt.Errorf("record pattern: write: %w", err)
	}
	return tx.Commit()
}

// Due returns patterns at or above the threshold inside the rolling window
// that do not already have an open or applied proposal.
func (t *Tracker) Due(ctx context.Context) ([]*Pattern, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT p.pattern_key, p.occurrence_count, p.first_seen, p.last_seen, p.tickers, p.examples
		 FROM error_patterns p
		 WHERE p.occurrence_count >= $1 AND p.last_seen >= $2
		   AND NOT EXISTS (
		     SELECT 1 FROM code_improvements ci
		     WHERE ci.pattern_key = p.pattern_key AND ci.status IN ('proposed', 'applied'))
		 ORDER BY p.occurrence_count DESC`,
		t.cfg.PatternThreshold, t.now().Add(-t.cfg.PatternWindow))
	if err != nil {
		return nil, fmt.Errorf("due patterns: %w", err)
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		p := &Pattern{}
		var tickersRaw, examplesRaw []byte
		if err := rows.Scan(&p.Key, &p.Count, &p.FirstSeen, &p.LastSeen, &tickersRaw, &examplesRaw); err != nil {
			return nil, fmt.Errorf("due patterns: scan: %w", err)
		}
		_ = json.Unmarshal(tickersRaw, &p.Tickers)
		_ = json.Unmarshal(examplesRaw, &p.Examples)
		out = append(out, p)
	}
	return out, rows.Err()
}

// proposalResponse is the strict shape the model must return.
type proposalResponse struct {
	RootCause       string   `json:"root_cause"`
	Description     string   `json:"description"`
	AffectedFiles   []string `json:"affected_files"`
	Confidence      float64  `json:"confidence"`
	TestSuggestions []string `json:"test_suggestions"`
	Patches         []Patch  `json:"patches"`
}

// Propose builds a proposal for one pattern, persists it as proposed, and
// sends it to the operator. Nothing is modified here.
func (t *Tracker) Propose(ctx context.Context, p *Pattern) (*Proposal, error) {
	proposal := t.analyze(ctx, p)

	filesRaw, _ := json.Marshal(proposal.AffectedFiles)
	fullRaw, err := json.Marshal(proposal)
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}
	err = t.db.QueryRowContext(ctx,
		`INSERT INTO code_improvements (pattern_key, description, affected_files, proposal, confidence, status)
		 VALUES ($1, $2, $3, $4, $5, 'proposed')
		 RETURNING id`,
		p.Key, proposal.Description, filesRaw, fullRaw, proposal.Confidence).
		Scan(&proposal.ID)
	if err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}
	proposal.Status = "proposed"

	if t.sender != nil {
		if err := t.sender.Send(ctx, FormatProposal(proposal, p)); err != nil {
			t.logger.Warn("Failed to deliver proposal", "pattern", p.Key, "error", err)
		}
	}
	t.logger.Info("Improvement proposed",
		"id", proposal.ID, "pattern", p.Key, "confidence", proposal.Confidence)
	return proposal, nil
}

// Sweep proposes an improvement for every due pattern.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	due, err := t.Due(ctx)
	if err != nil {
		return 0, err
	}
	proposed := 0
	for _, p := range due {
		if _, err := t.Propose(ctx, p); err != nil {
			t.logger.Error("Failed to propose improvement", "pattern", p.Key, "error", err)
			continue
		}
		proposed++
	}
	return proposed, nil
}

// analyze produces the proposal content, via the model when available.
func (t *Tracker) analyze(ctx context.Context, p *Pattern) *Proposal {
	proposal := &Proposal{
		PatternKey:  p.Key,
		RootCause:   fmt.Sprintf("Rule %q fired %d times across %d tickers; the upstream extraction or validation logic likely mishandles this shape of input.", p.Key, p.Count, len(p.Tickers)),
		Description: fmt.Sprintf("Recurring data-quality pattern %q (%d occurrences since %s).", p.Key, p.Count, p.FirstSeen.Format("2006-01-02")),
		Confidence:  0.3,
	}
	if t.llm == nil {
		return proposal
	}

	prompt := fmt.Sprintf(`A portfolio monitoring system keeps seeing the same data-quality error pattern.

Pattern key: %s
Occurrences: %d (first %s, last %s)
Affected tickers: %s
Examples:
%s

Respond with JSON only:
{"root_cause": "...", "description": "...", "affected_files": ["..."], "confidence": 0.0, "test_suggestions": ["..."], "patches": []}
confidence is your 0..1 estimate that the root cause is correct. Leave patches empty unless you are certain of an exact file rewrite.`,
		p.Key, p.Count,
		p.FirstSeen.Format("2006-01-02"), p.LastSeen.Format("2006-01-02"),
		strings.Join(p.Tickers, ", "),
		strings.Join(p.Examples, "\n"))

	var resp proposalResponse
	if err := t.llm.CompleteJSON(ctx, prompt, &resp); err != nil {
		t.logger.Warn("Proposal analysis failed, using rule-based root cause",
			"pattern", p.Key, "error", err)
		return proposal
	}
	if resp.RootCause != "" {
		proposal.RootCause = resp.RootCause
	}
	if resp.Description != "" {
		proposal.Description = resp.Description
	}
	proposal.AffectedFiles = resp.AffectedFiles
	if resp.Confidence > 0 && resp.Confidence <= 1 {
		proposal.Confidence = resp.Confidence
	}
	proposal.TestSuggestions = resp.TestSuggestions
	proposal.Patches = resp.Patches
	return proposal
}

// Approve applies a proposed improvement: every patched file is backed up
// to <file>.bak before being rewritten, and the record moves to applied.
// Proposals without patch content are marked applied for tracking only.
func (t *Tracker) Approve(ctx context.Context, id int64) (*Proposal, error) {
	var raw []byte
	var status string
	err := t.db.QueryRowContext(ctx,
		`SELECT proposal, status FROM code_improvements WHERE id = $1`, id).
		Scan(&raw, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotProposed
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	if status != "proposed" {
		return nil, fmt.Errorf("%w: status %s", ErrNotProposed, status)
	}

	proposal := &Proposal{}
	if err := json.Unmarshal(raw, proposal); err != nil {
		return nil, fmt.Errorf("decode proposal %d: %w", id, err)
	}
	proposal.ID = id

	for _, patch := range proposal.Patches {
		if patch.Content == "" {
			continue
		}
		if err := applyPatch(patch); err != nil {
			return nil, fmt.Errorf("applying %s: %w", patch.File, err)
		}
		t.logger.Info("Patched file with backup",
			"file", patch.File, "backup", patch.File+backupSuffix)
	}

	if _, err := t.db.ExecContext(ctx,
		`UPDATE code_improvements SET status = 'applied', applied_at = now()
		 WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("mark applied %d: %w", id, err)
	}
	proposal.Status = "applied"
	return proposal, nil
}

// Reject closes a proposal without applying it.
func (t *Tracker) Reject(ctx context.Context, id int64) error {
	res, err := t.db.ExecContext(ctx,
		`UPDATE code_improvements SET status = 'rejected'
		 WHERE id = $1 AND status = 'proposed'`, id)
	if err != nil {
		return fmt.Errorf("reject %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotProposed
	}
	return nil
}

// applyPatch writes the backup and then the new content.
func applyPatch(patch Patch) error {
	original, err := os.ReadFile(patch.File)
	if err != nil {
		return fmt.Errorf("reading original: %w", err)
	}
	if err := os.WriteFile(patch.File+backupSuffix, original, 0o644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	if err := os.WriteFile(patch.File, []byte(patch.Content), 0o644); err != nil {
		return fmt.Errorf("writing patch: %w", err)
	}
	return nil
}

// FormatProposal renders a proposal for chat delivery.
func FormatProposal(proposal *Proposal, p *Pattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔧 *Improvement proposal #%d* for pattern `%s`\n", proposal.ID, proposal.PatternKey)
	fmt.Fprintf(&b, "Occurrences: %d  Confidence: %.0f%%\n", p.Count, proposal.Confidence*100)
	fmt.Fprintf(&b, "Root cause: %s\n", proposal.RootCause)
	if proposal.Description != "" {
		fmt.Fprintf(&b, "%s\n", proposal.Description)
	}
	if len(proposal.AffectedFiles) > 0 {
		fmt.Fprintf(&b, "Affected files: %s\n", strings.Join(proposal.AffectedFiles, ", "))
	}
	for _, s := range proposal.TestSuggestions {
		fmt.Fprintf(&b, "Test: %s\n", s)
	}
	fmt.Fprintf(&b, "Reply IMPROVE APPLY %d or IMPROVE REJECT %d. Nothing changes without approval.",
		proposal.ID, proposal.ID)
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
