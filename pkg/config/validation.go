package config

import (
	"fmt"
	"time"
)

// ValidationConfig holds the tolerance bands and thresholds used by the
// validation rule set.
type ValidationConfig struct {
	// PremiumTolerancePts is the allowed divergence, in percentage points,
	// between the stored premium and the recomputed one.
	PremiumTolerancePts float64 `yaml:"premium_tolerance_pts"`

	// TrustBaseline and TrustGrowthRate define the age-adjusted expected
	// trust per share: baseline * (1+rate)^years, ± TrustTolerancePct.
	TrustBaseline     float64 `yaml:"trust_baseline"`
	TrustGrowthRate   float64 `yaml:"trust_growth_rate"`
	TrustTolerancePct float64 `yaml:"trust_tolerance_pct"`

	// Trust-cash sanity: trust cash must not exceed
	// proceeds * (BufferBase + BufferPerYear*years) * Margin.
	TrustCashBufferBase    float64 `yaml:"trust_cash_buffer_base"`
	TrustCashBufferPerYear float64 `yaml:"trust_cash_buffer_per_year"`
	TrustCashMargin        float64 `yaml:"trust_cash_margin"`

	// Typical deadline-minus-IPO window, in months.
	DeadlineMonthsMin int `yaml:"deadline_months_min"`
	DeadlineMonthsMax int `yaml:"deadline_months_max"`

	// PriceComponentTolerance is the allowed gap between the main price and
	// the common-share price.
	PriceComponentTolerance float64 `yaml:"price_component_tolerance"`

	// StaleAnnouncedAfter flags announced deals without a vote or extension
	// evidence after this long.
	StaleAnnouncedAfter time.Duration `yaml:"stale_announced_after"`

	// SuspiciousOverwriteGap is the last_updated minus last_scraped_at gap
	// that, combined with known-bad state, flags a suspicious overwrite.
	SuspiciousOverwriteGap time.Duration `yaml:"suspicious_overwrite_gap"`

	// RedemptionDivergencePct flags implied vs recorded market cap
	// divergence above this percentage (likely unreported redemptions).
	RedemptionDivergencePct float64 `yaml:"redemption_divergence_pct"`

	// RecurringThreshold promotes a rule to recurring-pattern status when
	// its occurrence count within one sweep reaches this value.
	RecurringThreshold int `yaml:"recurring_threshold"`

	// BulkCheckAllowList names rules exempt from recurring-pattern
	// promotion (intentional bulk checks).
	BulkCheckAllowList []string `yaml:"bulk_check_allow_list"`
}

// DefaultValidationConfig returns the built-in validation defaults.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		PremiumTolerancePts:     0.5,
		TrustBaseline:           10.00,
		TrustGrowthRate:         0.045,
		TrustTolerancePct:       5,
		TrustCashBufferBase:     1.15,
		TrustCashBufferPerYear:  0.04,
		TrustCashMargin:         1.10,
		DeadlineMonthsMin:       18,
		DeadlineMonthsMax:       36,
		PriceComponentTolerance: 0.05,
		StaleAnnouncedAfter:     180 * 24 * time.Hour,
		SuspiciousOverwriteGap:  6 * time.Hour,
		RedemptionDivergencePct: 20,
		RecurringThreshold:      5,
		BulkCheckAllowList:      []string{"CIK Consistency"},
	}
}

// Validate checks the validation configuration.
func (c *ValidationConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("validation configuration is nil")
	}
	if c.PremiumTolerancePts <= 0 {
		return fmt.Errorf("premium_tolerance_pts must be positive")
	}
	if c.TrustBaseline <= 0 {
		return fmt.Errorf("trust_baseline must be positive")
	}
	if c.DeadlineMonthsMin >= c.DeadlineMonthsMax {
		return fmt.Errorf("deadline_months_min must be below deadline_months_max")
	}
	if c.RecurringThreshold < 1 {
		return fmt.Errorf("recurring_threshold must be at least 1")
	}
	return nil
}
