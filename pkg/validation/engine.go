// Package validation is the data-quality rule engine. Rules are pure
// functions over one entity; the engine sweeps the portfolio, grades
// findings, attaches fix suggestions, and promotes recurring rule hits to
// pattern status for the learning record.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/metrics"
	"github.com/spacwatch/spacwatch/pkg/models"
)

// ResearchPort is the narrow handle through which the engine requests web
// research for a low-confidence issue. The orchestrator owns the concrete
// implementation.
type ResearchPort interface {
	RequestResearch(ctx context.Context, issue *models.Issue) (*models.ResearchFindings, error)
}

// CIKChecker verifies an identifier against the external registry. The
// check is expensive and rate-limited, so it is injected and optional.
type CIKChecker interface {
	CheckCIK(ctx context.Context, ticker, cik string) (consistent bool, err error)
}

// Report is the result of one full sweep.
type Report struct {
	Issues []*models.Issue

	// ByRule counts issues per rule name for this sweep.
	ByRule map[string]int

	// RecurringPatterns lists rules whose occurrence count crossed the
	// threshold this sweep, excluding allow-listed bulk checks.
	RecurringPatterns []string
}

// rule is one named validation check.
type rule struct {
	name string
	fn   func(e *Engine, s *models.Spac, now time.Time) []*models.Issue
}

// Engine evaluates the rule set.
type Engine struct {
	cfg      *config.ValidationConfig
	research ResearchPort // nil skips research attachments
	cik      CIKChecker   // nil skips the registry check
	logger   *slog.Logger
	now      func() time.Time
	rules    []rule
}

// New creates an Engine. research and cik may be nil.
func New(cfg *config.ValidationConfig, research ResearchPort, cik CIKChecker) *Engine {
	e := &Engine{
		cfg:      cfg,
		research: research,
		cik:      cik,
		logger:   slog.Default().With("component", "validation"),
		now:      time.Now,
	}
	e.rules = []rule{
		{"negative numerics", checkNumericRanges},
		{"date formats", checkDateFormats},
		{"deal-status consistency", checkDealStatusConsistency},
		{"temporal ordering", checkTemporalOrdering},
		{"deadline passed", checkDeadlinePassed},
		{"deadline window", checkDeadlineWindow},
		{"premium", checkPremium},
		{"trust per share", checkTrustPerShare},
		{"trust cash", checkTrustCash},
		{"price components", checkPriceComponents},
		{"suspicious overwrite", checkSuspiciousOverwrite},
		{"stale announced", checkStaleAnnounced},
		{"redemption completeness", checkRedemptionCompleteness},
	}
	return e
}

// ValidateEntity runs every rule against one entity.
func (e *Engine) ValidateEntity(s *models.Spac) []*models.Issue {
	now := e.now()
	var issues []*models.Issue
	for _, r := range e.rules {
		issues = append(issues, r.fn(e, s, now)...)
	}
	return issues
}

// ValidateAll sweeps the given entities, runs the optional registry check,
// attaches research to low-confidence issues, and computes recurring
// patterns.
func (e *Engine) ValidateAll(ctx context.Context, entities []*models.Spac) *Report {
	report := &Report{ByRule: make(map[string]int)}

	for _, entity := range entities {
		issues := e.ValidateEntity(entity)
		if e.cik != nil && entity.CIK != "" {
			issues = append(issues, e.checkCIK(ctx, entity)...)
		}
		report.Issues = append(report.Issues, issues...)
	}

	for _, issue := range report.Issues {
		report.ByRule[issue.Rule]++
		metrics.ValidationIssues.WithLabelValues(string(issue.Severity)).Inc()
		if issue.Confidence == models.ConfidenceLow && e.research != nil {
			findings, err := e.research.RequestResearch(ctx, issue)
			if err != nil {
				e.logger.Warn("Research request failed",
					"ticker", issue.Ticker, "rule", issue.Rule, "error", err)
				continue
			}
			issue.Research = findings
		}
	}

	allowed := make(map[string]bool, len(e.cfg.BulkCheckAllowList))
	for _, name := range e.cfg.BulkCheckAllowList {
		allowed[name] = true
	}
	for ruleName, count := range report.ByRule {
		if count >= e.cfg.RecurringThreshold && !allowed[ruleName] {
			report.RecurringPatterns = append(report.RecurringPatterns, ruleName)
		}
	}
	sort.Strings(report.RecurringPatterns)

	e.logger.Info("Validation sweep complete",
		"entities", len(entities),
		"issues", len(report.Issues),
		"recurring_patterns", len(report.RecurringPatterns))
	return report
}

// checkCIK runs the rate-limited registry consistency check.
func (e *Engine) checkCIK(ctx context.Context, s *models.Spac) []*models.Issue {
	consistent, err := e.cik.CheckCIK(ctx, s.Ticker, s.CIK)
	if err != nil {
		e.logger.Warn("CIK check failed", "ticker", s.Ticker, "error", err)
		return nil
	}
	if consistent {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "cik", "CIK Consistency", models.SeverityHigh, "ticker-identity")
	issue.Actual = s.CIK
	issue.Message = fmt.Sprintf("CIK %s does not map to %s on the external registry", s.CIK, s.Ticker)
	issue.Confidence = models.ConfidenceLow
	return []*models.Issue{issue}
}
