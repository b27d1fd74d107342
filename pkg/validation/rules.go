package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// freeFormDateRe accepts the labels allowed in flexible date fields:
// quarters, halves, month-year, or a bare year, optionally qualified.
var freeFormDateRe = regexp.MustCompile(
	`(?i)^(?:(?:early|mid|late)\s+)?(?:Q[1-4]\s+\d{4}|H[12]\s+\d{4}|` +
		`(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}|\d{4})$`)

// genericTargets are placeholder target values that do not count as a real
// counterparty.
var genericTargets = map[string]bool{
	"": true, "tbd": true, "n/a": true, "na": true, "-": true,
	"none": true, "unknown": true, "searching": true,
}

func checkNumericRanges(_ *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	fields := map[string]*float64{
		"price":              s.Price,
		"common_price":       s.CommonPrice,
		"unit_price":         s.UnitPrice,
		"trust_per_share":    s.TrustPerShare,
		"trust_cash":         s.TrustCash,
		"shares_outstanding": s.SharesOutstanding,
		"market_cap":         s.MarketCap,
	}
	var issues []*models.Issue
	for field, value := range fields {
		if value == nil || *value >= 0 {
			continue
		}
		issue := models.NewIssue(s.Ticker, field, "Negative Numeric Value", models.SeverityHigh, "data-type")
		issue.Actual = fmt.Sprintf("%g", *value)
		issue.Expected = ">= 0"
		issue.Message = fmt.Sprintf("%s is negative", field)
		issues = append(issues, issue)
	}
	return issues
}

func checkDateFormats(_ *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	fields := map[string]string{
		"ipo_date":        s.IPODate,
		"announced_date":  s.AnnouncedDate,
		"deadline_date":   s.DeadlineDate,
		"vote_date":       s.VoteDate,
		"completion_date": s.CompletionDate,
	}
	var issues []*models.Issue
	for field, value := range fields {
		if value == "" {
			continue
		}
		if _, ok := models.ParseFlexibleDate(value); ok {
			continue
		}
		if freeFormDateRe.MatchString(strings.TrimSpace(value)) {
			continue
		}
		issue := models.NewIssue(s.Ticker, field, "Unparseable Date", models.SeverityMedium, "data-type")
		issue.Actual = value
		issue.Expected = "ISO date or period label (e.g. Q4 2025)"
		issue.Message = fmt.Sprintf("%s %q is neither a date nor a recognized label", field, value)
		issues = append(issues, issue)
	}
	return issues
}

func checkDealStatusConsistency(_ *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	var issues []*models.Issue

	target := strings.ToLower(strings.TrimSpace(s.Target))
	switch s.Status {
	case models.StatusAnnounced:
		if genericTargets[target] {
			issue := models.NewIssue(s.Ticker, "target", "Announced Without Target", models.SeverityHigh, "business-lifecycle")
			issue.Actual = s.Target
			issue.Expected = "a named counterparty"
			issue.Message = "status is announced but no target is recorded"
			issue.Confidence = models.ConfidenceLow
			issues = append(issues, issue)
		}
	case models.StatusSearching:
		if !genericTargets[target] {
			issue := models.NewIssue(s.Ticker, "target", "Searching With Target Set", models.SeverityMedium, "business-lifecycle")
			issue.Actual = s.Target
			issue.Expected = "empty or placeholder"
			issue.Message = "status is searching but a target is recorded"
			issue.AutoFix = "clear_stale_target"
			issue.Confidence = models.ConfidenceLow
			issues = append(issues, issue)
		}
	}

	if s.IsLiquidating && !s.Status.Terminal() && s.Status != models.StatusSearching {
		issue := models.NewIssue(s.Ticker, "is_liquidating", "Liquidating Flag Inconsistent", models.SeverityWarning, "business-lifecycle")
		issue.Actual = fmt.Sprintf("liquidating while %s", s.Status)
		issue.Message = "liquidating flag set on a non-terminal announced entity"
		issues = append(issues, issue)
	}
	return issues
}

// orderedPair is one temporal invariant: earlier must not exceed later.
type orderedPair struct {
	earlierField, laterField string
	earlier, later           string
}

func checkTemporalOrdering(_ *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	pairs := []orderedPair{
		{"ipo_date", "announced_date", s.IPODate, s.AnnouncedDate},
		{"announced_date", "vote_date", s.AnnouncedDate, s.VoteDate},
		{"ipo_date", "deadline_date", s.IPODate, s.DeadlineDate},
		{"announced_date", "completion_date", s.AnnouncedDate, s.CompletionDate},
	}
	var issues []*models.Issue
	for _, p := range pairs {
		earlier, ok1 := models.ParseFlexibleDate(p.earlier)
		later, ok2 := models.ParseFlexibleDate(p.later)
		if !ok1 || !ok2 || !later.Before(earlier) {
			continue
		}
		issue := models.NewIssue(s.Ticker, p.laterField, "Temporal Ordering Violation", models.SeverityHigh, "temporal-consistency")
		issue.Actual = fmt.Sprintf("%s=%s before %s=%s", p.laterField, p.later, p.earlierField, p.earlier)
		issue.Expected = fmt.Sprintf("%s >= %s", p.laterField, p.earlierField)
		issue.Message = fmt.Sprintf("%s precedes %s", p.laterField, p.earlierField)
		issues = append(issues, issue)
	}
	return issues
}

func checkDeadlinePassed(_ *Engine, s *models.Spac, now time.Time) []*models.Issue {
	if s.Status != models.StatusAnnounced {
		return nil
	}
	deadline, ok := models.ParseFlexibleDate(s.DeadlineDate)
	if !ok || !deadline.Before(now) {
		return nil
	}
	daysPast := int(now.Sub(deadline).Hours() / 24)
	issue := models.NewIssue(s.Ticker, "deadline_date", "Deadline Passed (Deal Should Be Completed)", models.SeverityCritical, "business-lifecycle")
	issue.Actual = s.DeadlineDate
	issue.Message = fmt.Sprintf("deadline passed %d days ago with the deal still open", daysPast)
	issue.Confidence = models.ConfidenceLow
	issue.Metadata = map[string]string{"days_past_deadline": strconv.Itoa(daysPast)}
	return []*models.Issue{issue}
}

func checkDeadlineWindow(e *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	ipo, ok1 := models.ParseFlexibleDate(s.IPODate)
	deadline, ok2 := models.ParseFlexibleDate(s.DeadlineDate)
	if !ok1 || !ok2 {
		return nil
	}
	months := int(deadline.Sub(ipo).Hours() / (24 * 30.44))
	if months >= e.cfg.DeadlineMonthsMin && months <= e.cfg.DeadlineMonthsMax {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "deadline_date", "Deadline Window Atypical", models.SeverityWarning, "temporal-consistency")
	issue.Actual = fmt.Sprintf("%d months after IPO", months)
	issue.Expected = fmt.Sprintf("%d-%d months", e.cfg.DeadlineMonthsMin, e.cfg.DeadlineMonthsMax)
	issue.Message = fmt.Sprintf("deadline sits %d months after IPO, outside the typical range", months)
	return []*models.Issue{issue}
}

func checkPremium(e *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	recomputed, ok := s.ComputePremium()
	if !ok || s.Premium == nil {
		return nil
	}
	diff := math.Abs(*s.Premium - recomputed)
	if diff <= e.cfg.PremiumTolerancePts {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "premium", "Premium Calculation Mismatch", models.SeverityHigh, "financial-math")
	issue.Actual = fmt.Sprintf("%.2f", *s.Premium)
	issue.Expected = fmt.Sprintf("%.2f", recomputed)
	issue.Message = fmt.Sprintf("stored premium diverges from (price-trust)/trust by %.2f points", diff)
	issue.SuggestedFix = fmt.Sprintf("recompute premium as %.2f", recomputed)
	issue.AutoFix = "recalculate_premium"
	issue.Confidence = models.ConfidenceHigh
	return []*models.Issue{issue}
}

func checkTrustPerShare(e *Engine, s *models.Spac, now time.Time) []*models.Issue {
	if s.TrustPerShare == nil {
		return nil
	}
	ipo, ok := models.ParseFlexibleDate(s.IPODate)
	if !ok {
		return nil
	}
	years := now.Sub(ipo).Hours() / (24 * 365.25)
	if years < 0 {
		return nil
	}
	expected := e.cfg.TrustBaseline * math.Pow(1+e.cfg.TrustGrowthRate, years)
	tolerance := expected * e.cfg.TrustTolerancePct / 100
	if math.Abs(*s.TrustPerShare-expected) <= tolerance {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "trust_per_share", "Trust Per Share Out of Range", models.SeverityHigh, "numeric-range")
	issue.Actual = fmt.Sprintf("%.2f", *s.TrustPerShare)
	issue.Expected = fmt.Sprintf("%.2f ± %.0f%%", expected, e.cfg.TrustTolerancePct)
	issue.Message = fmt.Sprintf("trust per share %.2f outside the age-adjusted band around %.2f", *s.TrustPerShare, expected)
	issue.Confidence = models.ConfidenceMedium
	return []*models.Issue{issue}
}

func checkTrustCash(e *Engine, s *models.Spac, now time.Time) []*models.Issue {
	if s.TrustCash == nil {
		return nil
	}
	proceeds, ok := ParseMoney(s.IPOProceeds)
	if !ok || proceeds <= 0 {
		return nil
	}
	years := 0.0
	if ipo, ok := models.ParseFlexibleDate(s.IPODate); ok {
		years = math.Max(0, now.Sub(ipo).Hours()/(24*365.25))
	}
	maxReasonable := proceeds * (e.cfg.TrustCashBufferBase + e.cfg.TrustCashBufferPerYear*years) * e.cfg.TrustCashMargin
	if *s.TrustCash <= maxReasonable {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "trust_cash", "Trust Cash vs IPO Proceeds", models.SeverityCritical, "financial-math")
	issue.Actual = fmt.Sprintf("%.0f", *s.TrustCash)
	issue.Expected = fmt.Sprintf("<= %.0f", maxReasonable)
	issue.Message = fmt.Sprintf("trust cash %.0f exceeds any plausible growth of %.0f in proceeds (circular calculation suspected)", *s.TrustCash, proceeds)
	issue.SuggestedFix = "re-derive trust cash from the pricing prospectus"
	issue.AutoFix = "recalculate_from_424b4"
	issue.Confidence = models.ConfidenceLow
	return []*models.Issue{issue}
}

func checkPriceComponents(e *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	if s.Price == nil || s.CommonPrice == nil {
		return nil
	}
	diff := math.Abs(*s.Price - *s.CommonPrice)
	if diff <= e.cfg.PriceComponentTolerance {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "price", "Price Component Mismatch", models.SeverityMedium, "cross-field")
	issue.Actual = fmt.Sprintf("%.2f", *s.Price)
	issue.Expected = fmt.Sprintf("%.2f (common share price)", *s.CommonPrice)
	issue.Message = "main price diverges from the common-share price; unit price may have been stored instead"
	issue.AutoFix = "normalize_price_component"
	issue.Confidence = models.ConfidenceMedium
	return []*models.Issue{issue}
}

func checkSuspiciousOverwrite(e *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	if s.LastScrapedAt.IsZero() || s.LastUpdated.Sub(s.LastScrapedAt) < e.cfg.SuspiciousOverwriteGap {
		return nil
	}
	// Known-bad shapes: a searching entity carrying a target, or trust cash
	// far beyond proceeds. Gap alone is normal (manual edits).
	knownBad := false
	if s.Status == models.StatusSearching && !genericTargets[strings.ToLower(strings.TrimSpace(s.Target))] {
		knownBad = true
	}
	if len(checkTrustCash(e, s, s.LastUpdated)) > 0 {
		knownBad = true
	}
	if !knownBad {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "last_updated", "Suspicious Overwrite", models.SeverityWarning, "freshness")
	issue.Actual = fmt.Sprintf("updated %s, scraped %s",
		s.LastUpdated.Format(time.RFC3339), s.LastScrapedAt.Format(time.RFC3339))
	issue.Message = "record was modified well after its last scrape and matches a known-bad pattern"
	issue.Confidence = models.ConfidenceLow
	return []*models.Issue{issue}
}

func checkStaleAnnounced(e *Engine, s *models.Spac, now time.Time) []*models.Issue {
	if s.Status != models.StatusAnnounced || s.VoteDate != "" {
		return nil
	}
	announced, ok := models.ParseFlexibleDate(s.AnnouncedDate)
	if !ok || now.Sub(announced) < e.cfg.StaleAnnouncedAfter {
		return nil
	}
	days := int(now.Sub(announced).Hours() / 24)
	issue := models.NewIssue(s.Ticker, "announced_date", "Stale Announced Deal", models.SeverityMedium, "freshness")
	issue.Actual = s.AnnouncedDate
	issue.Message = fmt.Sprintf("announced %d days ago with no scheduled vote and no extension evidence", days)
	issue.Confidence = models.ConfidenceLow
	issue.Metadata = map[string]string{"days_since_announcement": strconv.Itoa(days)}
	return []*models.Issue{issue}
}

func checkRedemptionCompleteness(e *Engine, s *models.Spac, _ time.Time) []*models.Issue {
	if s.SharesOutstanding == nil || s.Price == nil || s.MarketCap == nil || *s.MarketCap == 0 {
		return nil
	}
	implied := *s.SharesOutstanding * *s.Price
	divergence := math.Abs(implied-*s.MarketCap) / *s.MarketCap * 100
	if divergence <= e.cfg.RedemptionDivergencePct {
		return nil
	}
	issue := models.NewIssue(s.Ticker, "market_cap", "Redemption Data Completeness", models.SeverityHigh, "cross-field")
	issue.Actual = fmt.Sprintf("%.0f", *s.MarketCap)
	issue.Expected = fmt.Sprintf("≈ %.0f (shares × price)", implied)
	issue.Message = fmt.Sprintf("implied market cap diverges %.0f%% from the recorded value; redemptions may be unreported", divergence)
	issue.Confidence = models.ConfidenceLow
	return []*models.Issue{issue}
}

var moneyRe = regexp.MustCompile(`(?i)^\$?\s*([\d,]+(?:\.\d+)?)\s*(thousand|million|billion|[kmb])?$`)

// ParseMoney parses money strings in the shapes the ingest writes:
// "$100M", "$1.2 billion", "250,000,000".
func ParseMoney(s string) (float64, bool) {
	m := moneyRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k", "thousand":
		v *= 1_000
	case "m", "million":
		v *= 1_000_000
	case "b", "billion":
		v *= 1_000_000_000
	}
	return v, true
}
