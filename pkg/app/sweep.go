package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
	"github.com/spacwatch/spacwatch/pkg/review"
	"github.com/spacwatch/spacwatch/pkg/validation"
)

// Validator runs the rule engine over a set of entities.
type Validator interface {
	ValidateAll(ctx context.Context, entities []*models.Spac) *validation.Report
}

// FixRunner applies one fix template to one entity.
type FixRunner interface {
	Apply(ctx context.Context, ticker, templateID string, overrides map[string]string) (map[string]repo.FieldChange, error)
}

// ReviewStarter opens a review queue over unresolved issues.
type ReviewStarter interface {
	Start(ctx context.Context, issues []*models.Issue, triggeredBy, priority string) (*review.Queue, error)
}

// PatternSink records recurring rule hits and proposes improvements for
// patterns that crossed the threshold.
type PatternSink interface {
	Record(ctx context.Context, patternKey, ticker, example string) error
	Sweep(ctx context.Context) (int, error)
}

// SweepOptions selects the sweep's scope and fix behavior.
type SweepOptions struct {
	// Ticker restricts the sweep to one entity; empty sweeps the portfolio.
	Ticker string

	// AutoFix applies high-confidence template fixes instead of queueing
	// them for review.
	AutoFix bool
}

// SweepResult summarizes one validation sweep.
type SweepResult struct {
	Entities  int
	Issues    int
	AutoFixed int
	Queued    int
	QueueID   string
	Proposals int
}

// Sweeper runs validation sweeps: rule engine, deterministic auto-fixes,
// review queue for the rest, and recurring-pattern learning.
type Sweeper struct {
	entities EntitySource
	engine   Validator
	fixes    FixRunner     // nil disables auto-fix
	reviewer ReviewStarter // nil skips review queueing
	patterns PatternSink   // nil skips learning
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. fixes, reviewer, and patterns may be nil.
func NewSweeper(entities EntitySource, engine Validator, fixes FixRunner, reviewer ReviewStarter, patterns PatternSink) *Sweeper {
	return &Sweeper{
		entities: entities,
		engine:   engine,
		fixes:    fixes,
		reviewer: reviewer,
		patterns: patterns,
		logger:   slog.Default().With("component", "sweeper"),
	}
}

// Run performs one sweep. Auto-fix applies only to issues graded high
// confidence that name a fix template; everything else (including failed
// auto-fixes) goes to the review queue.
func (s *Sweeper) Run(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	var entities []*models.Spac
	if opts.Ticker != "" {
		entity, err := s.entities.ByTicker(ctx, opts.Ticker)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", opts.Ticker, err)
		}
		entities = []*models.Spac{entity}
	} else {
		var err error
		if entities, err = s.entities.ListActive(ctx); err != nil {
			return nil, fmt.Errorf("listing active entities: %w", err)
		}
	}

	report := s.engine.ValidateAll(ctx, entities)
	result := &SweepResult{Entities: len(entities), Issues: len(report.Issues)}

	var remaining []*models.Issue
	for _, issue := range report.Issues {
		if opts.AutoFix && s.fixes != nil &&
			issue.Confidence == models.ConfidenceHigh && issue.AutoFix != "" {
			if _, err := s.fixes.Apply(ctx, issue.Ticker, issue.AutoFix, nil); err == nil {
				result.AutoFixed++
				continue
			} else {
				s.logger.Warn("Auto-fix failed, routing to review",
					"ticker", issue.Ticker, "template", issue.AutoFix, "error", err)
			}
		}
		remaining = append(remaining, issue)
	}

	if len(remaining) > 0 && s.reviewer != nil {
		queue, err := s.reviewer.Start(ctx, remaining, "validation", queuePriority(remaining))
		switch {
		case errors.Is(err, review.ErrActiveQueue):
			s.logger.Info("Review queue still active, new issues not queued",
				"held_back", len(remaining))
		case err != nil:
			return result, fmt.Errorf("opening review queue: %w", err)
		default:
			result.Queued = len(remaining)
			result.QueueID = queue.ID
		}
	}

	if s.patterns != nil {
		s.recordPatterns(ctx, report)
		proposed, err := s.patterns.Sweep(ctx)
		if err != nil {
			s.logger.Warn("Improvement sweep failed", "error", err)
		}
		result.Proposals = proposed
	}

	s.logger.Info("Validation sweep completed",
		"entities", result.Entities, "issues", result.Issues,
		"auto_fixed", result.AutoFixed, "queued", result.Queued)
	return result, nil
}

// recordPatterns feeds each recurring rule into the learning record, one
// occurrence per affected entity, with the issue message as the example.
func (s *Sweeper) recordPatterns(ctx context.Context, report *validation.Report) {
	recurring := make(map[string]bool, len(report.RecurringPatterns))
	for _, rule := range report.RecurringPatterns {
		recurring[rule] = true
	}
	for _, issue := range report.Issues {
		if !recurring[issue.Rule] {
			continue
		}
		if err := s.patterns.Record(ctx, issue.Rule, issue.Ticker, issue.Message); err != nil {
			s.logger.Warn("Pattern record failed",
				"rule", issue.Rule, "ticker", issue.Ticker, "error", err)
		}
	}
}

// queuePriority grades a queue by its worst issue.
func queuePriority(issues []*models.Issue) string {
	for _, issue := range issues {
		if issue.Severity == models.SeverityCritical {
			return "high"
		}
	}
	return "medium"
}
