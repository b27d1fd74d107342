package classifier

import (
	"strings"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// Agent names routable by the classifier. The dispatcher registry must
// cover every name listed here.
const (
	AgentDealDetector          = "DealDetector"
	AgentExtensionMonitor      = "ExtensionMonitor"
	AgentRedemptionExtractor   = "RedemptionExtractor"
	AgentCompletionMonitor     = "CompletionMonitor"
	AgentS4Processor           = "S4Processor"
	AgentFilingProcessor       = "FilingProcessor"
	AgentTrustAccountProcessor = "TrustAccountProcessor"
	AgentIPODetector           = "IPODetector"
	AgentDelistingDetector     = "DelistingDetector"
)

// rule is one deterministic classification row.
type rule struct {
	priority models.Priority
	agents   []string
	tag      string
}

// itemRules covers current reports keyed by item number.
var itemRules = map[string]rule{
	"1.01": {models.PriorityHigh, []string{AgentDealDetector}, "Material Agreement"},
	"2.01": {models.PriorityCritical, []string{AgentCompletionMonitor}, "Acquisition Completed"},
	"3.01": {models.PriorityCritical, []string{AgentDelistingDetector}, "Listing Deficiency"},
	"5.01": {models.PriorityHigh, []string{AgentCompletionMonitor}, "Change of Control"},
	"5.03": {models.PriorityHigh, []string{AgentExtensionMonitor}, "Charter Amendment / Extension"},
	"5.07": {models.PriorityHigh, []string{AgentRedemptionExtractor}, "Shareholder Vote Results"},
	"7.01": {models.PriorityMedium, []string{AgentDealDetector}, "Regulation FD Disclosure"},
	"8.01": {models.PriorityMedium, []string{AgentDealDetector}, "Other Events"},
}

// typeRules covers non-8-K filing types. Amendments normalize to the base
// type before lookup.
var typeRules = map[string]rule{
	"425":      {models.PriorityHigh, []string{AgentDealDetector}, "Merger Communication"},
	"S-4":      {models.PriorityHigh, []string{AgentS4Processor}, "Merger Registration"},
	"DEFM14A":  {models.PriorityHigh, []string{AgentFilingProcessor, AgentRedemptionExtractor}, "Definitive Merger Proxy"},
	"DEFR14A":  {models.PriorityHigh, []string{AgentFilingProcessor, AgentRedemptionExtractor}, "Revised Merger Proxy"},
	"PREM14A":  {models.PriorityHigh, []string{AgentFilingProcessor, AgentRedemptionExtractor}, "Preliminary Merger Proxy"},
	"DEF 14A":  {models.PriorityHigh, []string{AgentFilingProcessor, AgentRedemptionExtractor}, "Definitive Proxy"},
	"SC 14D9":  {models.PriorityHigh, []string{AgentFilingProcessor}, "Tender Offer Schedule"},
	"10-Q":     {models.PriorityMedium, []string{AgentTrustAccountProcessor}, "Quarterly Report"},
	"10-K":     {models.PriorityMedium, []string{AgentTrustAccountProcessor}, "Annual Report"},
	"424B4":    {models.PriorityMedium, []string{AgentIPODetector}, "IPO Prospectus"},
	"S-1":      {models.PriorityMedium, []string{AgentIPODetector}, "IPO Registration"},
	"25-NSE":   {models.PriorityCritical, []string{AgentDelistingDetector, AgentCompletionMonitor}, "Delisting Notice"},
}

// normalizeType strips amendment suffixes so S-4/A matches S-4.
func normalizeType(filingType string) string {
	t := strings.ToUpper(strings.TrimSpace(filingType))
	t = strings.TrimSuffix(t, "/A")
	return strings.TrimSpace(t)
}

// classifyTier1 is the authoritative deterministic classification.
func classifyTier1(filing *models.Filing) models.Classification {
	ftype := normalizeType(filing.Type)

	if ftype == "8-K" {
		if r, ok := itemRules[filing.ItemNumber]; ok {
			return models.Classification{
				Priority:     r.priority,
				AgentsNeeded: append([]string(nil), r.agents...),
				Tag:          r.tag,
				Summary:      filing.Title,
				Source:       "rules",
			}
		}
		// Generic current report without a recognized item. Routed to the
		// deal detector pending tier-2 refinement.
		return models.Classification{
			Priority:     models.PriorityMedium,
			AgentsNeeded: []string{AgentDealDetector},
			Tag:          "Current Report",
			Summary:      filing.Title,
			Source:       "rules",
		}
	}

	if r, ok := typeRules[ftype]; ok {
		return models.Classification{
			Priority:     r.priority,
			AgentsNeeded: append([]string(nil), r.agents...),
			Tag:          r.tag,
			Summary:      filing.Title,
			Source:       "rules",
		}
	}

	return models.Classification{
		Priority:     models.PriorityLow,
		AgentsNeeded: nil,
		Tag:          "Unclassified",
		Summary:      filing.Title,
		Source:       "rules",
	}
}
