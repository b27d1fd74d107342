package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
)

func filing(ftype, item, title string) *models.Filing {
	return &models.Filing{
		ID:         "f-test",
		Ticker:     "ACME",
		Type:       ftype,
		ItemNumber: item,
		Title:      title,
	}
}

func TestTier1Table(t *testing.T) {
	tests := []struct {
		name       string
		ftype      string
		item       string
		wantPrio   models.Priority
		wantAgents []string
	}{
		{"material agreement", "8-K", "1.01", models.PriorityHigh, []string{AgentDealDetector}},
		{"completion", "8-K", "2.01", models.PriorityCritical, []string{AgentCompletionMonitor}},
		{"extension", "8-K", "5.03", models.PriorityHigh, []string{AgentExtensionMonitor}},
		{"vote results", "8-K", "5.07", models.PriorityHigh, []string{AgentRedemptionExtractor}},
		{"merger communication", "425", "", models.PriorityHigh, []string{AgentDealDetector}},
		{"s-4", "S-4", "", models.PriorityHigh, []string{AgentS4Processor}},
		{"s-4 amendment", "S-4/A", "", models.PriorityHigh, []string{AgentS4Processor}},
		{"definitive proxy", "DEFM14A", "", models.PriorityHigh, []string{AgentFilingProcessor, AgentRedemptionExtractor}},
		{"tender offer", "SC 14D9", "", models.PriorityHigh, []string{AgentFilingProcessor}},
		{"quarterly", "10-Q", "", models.PriorityMedium, []string{AgentTrustAccountProcessor}},
		{"ipo prospectus", "424B4", "", models.PriorityMedium, []string{AgentIPODetector}},
		{"delisting", "25-NSE", "", models.PriorityCritical, []string{AgentDelistingDetector, AgentCompletionMonitor}},
		{"unknown type", "SC 13G", "", models.PriorityLow, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTier1(filing(tt.ftype, tt.item, "title"))
			assert.Equal(t, tt.wantPrio, got.Priority)
			assert.Equal(t, tt.wantAgents, got.AgentsNeeded)
			assert.Equal(t, "rules", got.Source)
		})
	}
}

func TestClassifyWithoutLLMUsesTier1(t *testing.T) {
	c := New(nil, config.DefaultLLMConfig())
	got := c.Classify(context.Background(), filing("8-K", "", "Current report"), nil)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.Equal(t, []string{AgentDealDetector}, got.AgentsNeeded)
	assert.Equal(t, "rules", got.Source)
}

func TestTier2ResolvesAmbiguousItemNumber(t *testing.T) {
	fake := &llm.Fake{Responses: []string{
		`{"item_number":"2.01","priority":"critical","agents_needed":["CompletionMonitor"],"reason":"closing","data_types":{},"relevance_score":95}`,
	}}
	c := New(fake, config.DefaultLLMConfig())

	got := c.Classify(context.Background(), filing("8-K", "", "Completion of acquisition"), nil)
	assert.Equal(t, models.PriorityCritical, got.Priority)
	assert.Equal(t, []string{AgentCompletionMonitor}, got.AgentsNeeded)
	assert.Equal(t, "llm", got.Source)
}

func TestTier2MayOnlySubtractAgents(t *testing.T) {
	// The model tries to add an agent tier 1 never routed; it must be
	// dropped while the legitimate subset survives.
	fake := &llm.Fake{Responses: []string{
		`{"item_number":"","priority":"high","agents_needed":["FilingProcessor","DealDetector"],"reason":"","data_types":{},"relevance_score":80}`,
	}}
	c := New(fake, config.DefaultLLMConfig())

	f := filing("DEFM14A", "", "Definitive proxy")
	f.Body = "proxy statement body"
	got := c.Classify(context.Background(), f, nil)
	assert.Equal(t, []string{AgentFilingProcessor}, got.AgentsNeeded,
		"DealDetector was not in the tier-1 list and must not be added")
}

func TestTier2ParseFailureFallsBackToTier1(t *testing.T) {
	fake := &llm.Fake{Responses: []string{"I think this is probably a merger"}}
	c := New(fake, config.DefaultLLMConfig())

	got := c.Classify(context.Background(), filing("8-K", "", "Current report"), nil)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.Equal(t, []string{AgentDealDetector}, got.AgentsNeeded)
	assert.Equal(t, "rules", got.Source)
}

func TestTier2InvalidPriorityKeepsBase(t *testing.T) {
	fake := &llm.Fake{Responses: []string{
		`{"item_number":"","priority":"urgent","agents_needed":["DealDetector"],"reason":"","data_types":{},"relevance_score":50}`,
	}}
	c := New(fake, config.DefaultLLMConfig())

	got := c.Classify(context.Background(), filing("8-K", "", "Current report"), nil)
	assert.Equal(t, models.PriorityMedium, got.Priority, "unknown priority string is ignored")
}

func TestSummaryPrefersLLMOutput(t *testing.T) {
	fake := &llm.Fake{Responses: []string{
		`{"item_number":"1.01","priority":"high","agents_needed":["DealDetector"],"reason":"","data_types":{},"relevance_score":90}`,
		"Acme signed a definitive merger agreement with Target Co.",
	}}
	c := New(fake, config.DefaultLLMConfig())

	f := filing("8-K", "", "Current report")
	f.Body = "On August 20, the Company entered into a merger agreement..."
	got := c.Classify(context.Background(), f, nil)
	assert.Equal(t, "Acme signed a definitive merger agreement with Target Co.", got.Summary)
}

func TestSummaryFailureKeepsRuleSummary(t *testing.T) {
	fake := &llm.Fake{Err: errors.New("model unavailable")}
	c := New(fake, config.DefaultLLMConfig())

	f := filing("425", "", "425 - Merger communication")
	f.Body = "body text"
	got := c.Classify(context.Background(), f, nil)
	require.Equal(t, "425 - Merger communication", got.Summary)
}
