// Package classifier decides, for each observed filing, its priority, the
// agents that should process it, and a human-readable tag. Tier 1 is a
// deterministic table and is always authoritative for routing; tier 2 is an
// LLM refinement that may only narrow tier 1's agent list, never widen it.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
)

// bodySampleLen bounds the content sample included in tier-2 prompts.
const bodySampleLen = 2000

// Classifier is the two-tier filing classifier.
type Classifier struct {
	llm    llm.Client // nil disables tier 2
	cfg    *config.LLMConfig
	logger *slog.Logger
}

// New creates a Classifier. A nil llm client degrades to tier 1 only.
func New(llmClient llm.Client, cfg *config.LLMConfig) *Classifier {
	return &Classifier{
		llm:    llmClient,
		cfg:    cfg,
		logger: slog.Default().With("component", "classifier"),
	}
}

// tier2Response is the strict JSON contract for the refinement call.
type tier2Response struct {
	ItemNumber     string          `json:"item_number"`
	Priority       models.Priority `json:"priority"`
	AgentsNeeded   []string        `json:"agents_needed"`
	Reason         string          `json:"reason"`
	DataTypes      map[string]bool `json:"data_types"`
	RelevanceScore int             `json:"relevance_score"`
}

// Classify returns the routing decision for a filing. Never fails: any
// tier-2 problem falls back to the tier-1 result.
func (c *Classifier) Classify(ctx context.Context, filing *models.Filing, entity *models.Spac) models.Classification {
	base := classifyTier1(filing)

	if c.shouldRefine(filing, base) {
		if refined, ok := c.refine(ctx, filing, entity, base); ok {
			base = refined
		}
	}

	if summary, ok := c.summarize(ctx, filing); ok {
		base.Summary = summary
	}
	return base
}

// shouldRefine reports whether tier 2 applies: semantically ambiguous
// current reports, or a fetched body with more than one candidate agent.
func (c *Classifier) shouldRefine(filing *models.Filing, base models.Classification) bool {
	if c.llm == nil {
		return false
	}
	if normalizeType(filing.Type) == "8-K" && filing.ItemNumber == "" {
		return true
	}
	return filing.Body != "" && len(base.AgentsNeeded) > 1
}

// refine runs the tier-2 LLM call. The returned classification keeps
// tier 1 as the routing ceiling: agents not already in the base list are
// dropped.
func (c *Classifier) refine(ctx context.Context, filing *models.Filing, entity *models.Spac, base models.Classification) (models.Classification, bool) {
	var resp tier2Response
	if err := c.llm.CompleteJSON(ctx, c.refinePrompt(filing, entity, base), &resp); err != nil {
		c.logger.Warn("Tier-2 classification failed, keeping tier-1 result",
			"filing_id", filing.ID, "error", err)
		return base, false
	}

	refined := base
	refined.Source = "llm"

	// A resolved item number upgrades an ambiguous current report to its
	// deterministic row before subtraction applies.
	if filing.ItemNumber == "" && resp.ItemNumber != "" {
		if r, ok := itemRules[resp.ItemNumber]; ok {
			refined.Priority = r.priority
			refined.AgentsNeeded = append([]string(nil), r.agents...)
			refined.Tag = r.tag
		}
	}

	if resp.Priority.Validate() == nil {
		refined.Priority = resp.Priority
	}
	if resp.AgentsNeeded != nil {
		refined.AgentsNeeded = intersect(refined.AgentsNeeded, resp.AgentsNeeded)
	}
	return refined, true
}

// intersect keeps base entries also present in proposed, preserving base
// order. Tier 2 subtracts, never adds.
func intersect(base, proposed []string) []string {
	allowed := make(map[string]struct{}, len(proposed))
	for _, a := range proposed {
		allowed[a] = struct{}{}
	}
	var out []string
	for _, a := range base {
		if _, ok := allowed[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (c *Classifier) refinePrompt(filing *models.Filing, entity *models.Spac, base models.Classification) string {
	var b strings.Builder
	b.WriteString("You classify a regulatory filing for a blank-check company monitor.\n")
	fmt.Fprintf(&b, "Filing type: %s\n", filing.Type)
	if filing.ItemNumber != "" {
		fmt.Fprintf(&b, "Item number: %s\n", filing.ItemNumber)
	}
	fmt.Fprintf(&b, "Title: %s\n", filing.Title)
	if entity != nil {
		fmt.Fprintf(&b, "Company: %s (%s), status %s, target %q\n",
			entity.Name, entity.Ticker, entity.Status, entity.Target)
	}
	if filing.Body != "" {
		sample := filing.Body
		if len(sample) > bodySampleLen {
			sample = sample[:bodySampleLen]
		}
		fmt.Fprintf(&b, "Content sample:\n%s\n", sample)
	}
	fmt.Fprintf(&b, "Candidate agents: %s\n", strings.Join(base.AgentsNeeded, ", "))
	b.WriteString(`Respond with JSON only: {"item_number": string, "priority": ` +
		`"critical"|"high"|"medium"|"low", "agents_needed": [string], ` +
		`"reason": string, "data_types": {string: bool}, "relevance_score": 0-100}. ` +
		"agents_needed must be a subset of the candidate agents.")
	return b.String()
}

// summarize asks the model for a short filing summary. Only attempted when
// a body is available; any failure keeps the rule-based summary.
func (c *Classifier) summarize(ctx context.Context, filing *models.Filing) (string, bool) {
	if c.llm == nil || filing.Body == "" {
		return "", false
	}
	sample := filing.Body
	if len(sample) > bodySampleLen {
		sample = sample[:bodySampleLen]
	}
	prompt := fmt.Sprintf(
		"Summarize this %s filing in at most two sentences for a portfolio monitor.\nTitle: %s\n%s",
		filing.Type, filing.Title, sample)
	summary, err := c.llm.Complete(ctx, prompt, c.cfg.SummaryMaxTokens)
	if err != nil {
		c.logger.Warn("Summary generation failed, using title",
			"filing_id", filing.ID, "error", err)
		return "", false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", false
	}
	return summary, true
}
