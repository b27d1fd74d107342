package app

import (
	"context"
	"fmt"

	"github.com/spacwatch/spacwatch/pkg/agents"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
)

// Research answers the validation engine's research requests with the
// advisory model. Findings are advisory context for the operator, never a
// direct mutation.
type Research struct {
	llm llm.Client
}

// NewResearch creates a Research adapter.
func NewResearch(model llm.Client) *Research {
	return &Research{llm: model}
}

// RequestResearch asks the model for background on one issue.
func (r *Research) RequestResearch(ctx context.Context, issue *models.Issue) (*models.ResearchFindings, error) {
	prompt := fmt.Sprintf(
		"A data-quality check flagged %s field %q (rule: %s): %s\n"+
			"Current value: %s, expected: %s.\n"+
			"What is the most likely explanation? Respond with JSON: "+
			`{"summary": "...", "confidence": 0.0-1.0, "sources": ["..."]}`,
		issue.Ticker, issue.Field, issue.Rule, issue.Message,
		issue.Actual, issue.Expected)

	var findings models.ResearchFindings
	if err := r.llm.CompleteJSON(ctx, prompt, &findings); err != nil {
		return nil, err
	}
	return &findings, nil
}

// ScheduledSweep runs the validation sweep as the daily-checks agent slot.
// Auto-fix stays off on the scheduled path; scheduled findings always go
// through review.
type ScheduledSweep struct {
	sweeper *Sweeper
}

// NewScheduledSweep wraps a Sweeper as a scheduled agent.
func NewScheduledSweep(sweeper *Sweeper) *ScheduledSweep {
	return &ScheduledSweep{sweeper: sweeper}
}

// Name implements agents.ScheduledAgent.
func (s *ScheduledSweep) Name() string { return agents.AgentDailyChecks }

// Run implements agents.ScheduledAgent.
func (s *ScheduledSweep) Run(ctx context.Context) (agents.Result, error) {
	result, err := s.sweeper.Run(ctx, SweepOptions{})
	if err != nil {
		return agents.Result{}, err
	}
	return agents.Result{
		Summary: fmt.Sprintf("%d entities checked, %d issues, %d queued for review",
			result.Entities, result.Issues, result.Queued),
	}, nil
}
