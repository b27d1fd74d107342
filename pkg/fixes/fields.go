package fixes

import (
	"fmt"
	"strconv"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// numericFields are the entity fields templates may treat as numbers.
var numericFields = map[string]bool{
	"price":              true,
	"common_price":       true,
	"unit_price":         true,
	"trust_per_share":    true,
	"trust_cash":         true,
	"shares_outstanding": true,
	"market_cap":         true,
	"premium":            true,
}

// fieldValue reads a template-visible field as a string plus presence.
func fieldValue(s *models.Spac, field string) (string, bool) {
	switch field {
	case "status":
		return string(s.Status), s.Status != ""
	case "target":
		return s.Target, s.Target != ""
	case "ipo_proceeds":
		return s.IPOProceeds, s.IPOProceeds != ""
	case "ipo_date":
		return s.IPODate, s.IPODate != ""
	case "announced_date":
		return s.AnnouncedDate, s.AnnouncedDate != ""
	case "deadline_date":
		return s.DeadlineDate, s.DeadlineDate != ""
	case "vote_date":
		return s.VoteDate, s.VoteDate != ""
	case "completion_date":
		return s.CompletionDate, s.CompletionDate != ""
	}
	if ptr := numericPtr(s, field); ptr != nil {
		if *ptr == nil {
			return "", false
		}
		return strconv.FormatFloat(**ptr, 'g', -1, 64), true
	}
	return "", false
}

// rawValue reads the field in the shape the repository expects for a
// write. Used to snapshot pre-fix state for rollback.
func rawValue(s *models.Spac, field string) any {
	if numericFields[field] {
		ptr := numericPtr(s, field)
		if ptr == nil || *ptr == nil {
			return nil
		}
		return **ptr
	}
	v, _ := fieldValue(s, field)
	return v
}

// numericPtr returns the address of the named numeric pointer field.
func numericPtr(s *models.Spac, field string) **float64 {
	switch field {
	case "price":
		return &s.Price
	case "common_price":
		return &s.CommonPrice
	case "unit_price":
		return &s.UnitPrice
	case "trust_per_share":
		return &s.TrustPerShare
	case "trust_cash":
		return &s.TrustCash
	case "shares_outstanding":
		return &s.SharesOutstanding
	case "market_cap":
		return &s.MarketCap
	case "premium":
		return &s.Premium
	}
	return nil
}

// setField writes a computed value onto the working copy.
func setField(s *models.Spac, field string, value any) error {
	if numericFields[field] {
		ptr := numericPtr(s, field)
		if value == nil {
			*ptr = nil
			return nil
		}
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("field %s needs a numeric value, got %T", field, value)
		}
		*ptr = &f
		return nil
	}

	str := ""
	if value != nil {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %s needs a string value, got %T", field, value)
		}
		str = s
	}
	switch field {
	case "status":
		s.Status = models.Status(str)
	case "target":
		s.Target = str
	case "ipo_proceeds":
		s.IPOProceeds = str
	case "ipo_date":
		s.IPODate = str
	case "announced_date":
		s.AnnouncedDate = str
	case "deadline_date":
		s.DeadlineDate = str
	case "vote_date":
		s.VoteDate = str
	case "completion_date":
		s.CompletionDate = str
	default:
		return fmt.Errorf("field %s is not template-writable", field)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
