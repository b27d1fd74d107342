// Package fixes applies declarative correction templates to entities. A
// template names its preconditions, its changes, and its post-checks; the
// applier either commits every change or none, and restores the snapshot
// when verification after the write fails.
package fixes

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/validation"
)

// Condition operators.
const (
	OpPresent     = "present"
	OpAbsent      = "absent"
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGT          = "gt"
	OpLT          = "lt"
	OpAgeLessThan = "age_less_than"
)

// Change actions.
const (
	ActionSetValue  = "set_value"
	ActionSetNull   = "set_null"
	ActionCalculate = "calculate"
)

// Condition is one predicate over an entity field.
type Condition struct {
	Field string
	Op    string
	Value string // comparison operand; a day count for age_less_than
}

// Change is one field mutation.
type Change struct {
	Field   string
	Action  string
	Value   string // literal for set_value; overridable per application
	Formula string // named calculation for calculate
}

// Template is a declarative fix for one class of validation issue.
type Template struct {
	ID          string
	Description string
	Conditions  []Condition
	Changes     []Change
	PostChecks  []Condition
}

// formulas is the closed set of named calculations a template may invoke.
// Arbitrary expressions are deliberately not supported.
var formulas = map[string]func(s *models.Spac) (any, bool){
	"premium": func(s *models.Spac) (any, bool) {
		v, ok := s.ComputePremium()
		return v, ok
	},
	"common_price": func(s *models.Spac) (any, bool) {
		if s.CommonPrice == nil {
			return nil, false
		}
		return *s.CommonPrice, true
	},
	"market_cap_from_shares": func(s *models.Spac) (any, bool) {
		if s.SharesOutstanding == nil || s.Price == nil {
			return nil, false
		}
		return *s.SharesOutstanding * *s.Price, true
	},
	"trust_cash_from_proceeds": func(s *models.Spac) (any, bool) {
		v, ok := validation.ParseMoney(s.IPOProceeds)
		if !ok {
			return nil, false
		}
		return v, true
	},
}

// evaluate checks one condition against an entity.
func (c Condition) evaluate(s *models.Spac) (bool, error) {
	value, present := fieldValue(s, c.Field)
	switch c.Op {
	case OpPresent:
		return present, nil
	case OpAbsent:
		return !present, nil
	case OpEquals:
		return present && value == c.Value, nil
	case OpNotEquals:
		return !present || value != c.Value, nil
	case OpAgeLessThan:
		if !present {
			return false, nil
		}
		when, ok := models.ParseFlexibleDate(value)
		if !ok {
			return false, fmt.Errorf("field %s is not a date: %q", c.Field, value)
		}
		days, err := strconv.Atoi(c.Value)
		if err != nil || days < 0 {
			return false, fmt.Errorf("condition operand is not a day count: %q", c.Value)
		}
		return time.Since(when) < time.Duration(days)*24*time.Hour, nil
	case OpGT, OpLT:
		if !present {
			return false, nil
		}
		actual, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, fmt.Errorf("field %s is not numeric: %q", c.Field, value)
		}
		operand, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false, fmt.Errorf("condition operand is not numeric: %q", c.Value)
		}
		if c.Op == OpGT {
			return actual > operand, nil
		}
		return actual < operand, nil
	}
	return false, fmt.Errorf("unknown condition operator %q", c.Op)
}

// Builtins returns the built-in template set, keyed by id.
func Builtins() map[string]*Template {
	templates := []*Template{
		{
			ID:          "recalculate_premium",
			Description: "Recompute premium from price and trust per share",
			Conditions: []Condition{
				{Field: "price", Op: OpPresent},
				{Field: "trust_per_share", Op: OpPresent},
			},
			Changes: []Change{
				{Field: "premium", Action: ActionCalculate, Formula: "premium"},
			},
			PostChecks: []Condition{
				{Field: "premium", Op: OpPresent},
			},
		},
		{
			ID:          "recalculate_from_424b4",
			Description: "Re-derive trust cash from the IPO proceeds figure",
			Conditions: []Condition{
				{Field: "ipo_proceeds", Op: OpPresent},
			},
			Changes: []Change{
				{Field: "trust_cash", Action: ActionCalculate, Formula: "trust_cash_from_proceeds"},
			},
			PostChecks: []Condition{
				{Field: "trust_cash", Op: OpPresent},
			},
		},
		{
			ID:          "clear_stale_target",
			Description: "Clear a target left behind on a searching entity",
			Conditions: []Condition{
				{Field: "status", Op: OpEquals, Value: "searching"},
				{Field: "target", Op: OpPresent},
			},
			Changes: []Change{
				{Field: "target", Action: ActionSetNull},
			},
			PostChecks: []Condition{
				{Field: "target", Op: OpAbsent},
			},
		},
		{
			ID:          "normalize_price_component",
			Description: "Replace the main price with the common-share price",
			Conditions: []Condition{
				{Field: "common_price", Op: OpPresent},
			},
			Changes: []Change{
				{Field: "price", Action: ActionCalculate, Formula: "common_price"},
			},
			PostChecks: []Condition{
				{Field: "price", Op: OpPresent},
			},
		},
	}
	out := make(map[string]*Template, len(templates))
	for _, t := range templates {
		out[t.ID] = t
	}
	return out
}
