package agents

import (
	"github.com/spacwatch/spacwatch/pkg/prices"
)

// Scheduled agent names driven by the scheduler's cadence table.
const (
	AgentPriceUpdater     = "PriceUpdater"
	AgentNewsMonitor      = "NewsMonitor"
	AgentSocialMonitor    = "SocialMonitor"
	AgentAfterMarket      = "AfterMarketAggregator"
	AgentDailyChecks      = "DailyChecks"
	AgentWeeklyEnrichment = "WeeklyEnrichment"
	AgentDailyDigest      = "DailyDigest"
	AgentPremiumAlerter   = "PremiumAlerter"
	AgentRiskMonitor      = "RiskMonitor"
	AgentVolumeTracker    = "VolumeTracker"
)

// RegisterBuiltins populates both registries with every agent the
// classifier or scheduler can route to. The classifier's routing table and
// the filing registry must stay in lockstep; a routed name with no agent
// fails the task at dispatch. An override claims its scheduled slot before
// the default is registered.
func RegisterBuiltins(r *Registry, store EntityStore, notify NotifyPort, sender Sender, source prices.PriceSource, overrides ...ScheduledAgent) error {
	filingAgents := []FilingAgent{
		NewDealDetector(store, notify),
		NewExtensionMonitor(store, notify),
		NewRedemptionExtractor(store, notify),
		NewCompletionMonitor(store, notify),
		NewDelistingDetector(store, notify),
		NewTrustAccountProcessor(store),
		newPassthroughAgent("S4Processor"),
		newPassthroughAgent("FilingProcessor"),
		newPassthroughAgent("IPODetector"),
	}
	for _, a := range filingAgents {
		if err := r.RegisterFiling(a); err != nil {
			return err
		}
	}

	for _, a := range overrides {
		if err := r.RegisterScheduled(a); err != nil {
			return err
		}
	}

	scheduledAgents := []ScheduledAgent{
		NewPriceUpdater(store, source),
		NewPremiumAlerter(store, notify),
		NewDailyDigest(store, sender),
		newNoopScheduledAgent(AgentNewsMonitor),
		newNoopScheduledAgent(AgentSocialMonitor),
		newNoopScheduledAgent(AgentAfterMarket),
		newNoopScheduledAgent(AgentDailyChecks),
		newNoopScheduledAgent(AgentWeeklyEnrichment),
		newNoopScheduledAgent(AgentRiskMonitor),
		newNoopScheduledAgent(AgentVolumeTracker),
	}
	for _, a := range scheduledAgents {
		if _, taken := r.Scheduled(a.Name()); taken {
			continue
		}
		if err := r.RegisterScheduled(a); err != nil {
			return err
		}
	}
	return nil
}
