package fixes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
	"github.com/spacwatch/spacwatch/pkg/validation"
)

// fakeStore holds one entity in memory and applies updates to it, the way
// the repository would. ignoreWrites simulates a write that did not land,
// which is what the post-apply verification exists to catch.
type fakeStore struct {
	entity       *models.Spac
	updates      []map[string]any
	changeTypes  []string
	sources      []string
	ignoreWrites bool
}

func (s *fakeStore) ByTicker(_ context.Context, ticker string) (*models.Spac, error) {
	if s.entity == nil || s.entity.Ticker != ticker {
		return nil, repo.ErrNotFound
	}
	clone := *s.entity
	return &clone, nil
}

func (s *fakeStore) Update(_ context.Context, _ string, changes map[string]any, opts repo.UpdateOptions) (map[string]repo.FieldChange, error) {
	s.updates = append(s.updates, changes)
	s.changeTypes = append(s.changeTypes, opts.ChangeType)
	s.sources = append(s.sources, opts.Source)
	applied := make(map[string]repo.FieldChange, len(changes))
	for field, value := range changes {
		applied[field] = repo.FieldChange{}
		if s.ignoreWrites {
			continue
		}
		if err := setField(s.entity, field, value); err != nil {
			return nil, err
		}
	}
	return applied, nil
}

func f(v float64) *float64 { return &v }

func TestApplyRecalculatesPremium(t *testing.T) {
	store := &fakeStore{entity: &models.Spac{
		Ticker: "PREM", Status: models.StatusSearching,
		Price:         f(11.00),
		TrustPerShare: f(10.00),
		Premium:       f(2.0),
	}}
	a := NewApplier(store)

	applied, err := a.Apply(context.Background(), "PREM", "recalculate_premium", nil)
	require.NoError(t, err)
	assert.Contains(t, applied, "premium")
	require.NotNil(t, store.entity.Premium)
	assert.InDelta(t, 10.0, *store.entity.Premium, 0.001)
	assert.Equal(t, []string{"fix"}, store.changeTypes)
	assert.Equal(t, []string{"fix:recalculate_premium"}, store.sources)

	// The issue the template addresses is gone after the fix.
	engine := validation.New(config.DefaultValidationConfig(), nil, nil)
	for _, issue := range engine.ValidateEntity(store.entity) {
		assert.NotEqual(t, "Premium Calculation Mismatch", issue.Rule)
	}
}

func TestApplyClearsStaleTarget(t *testing.T) {
	store := &fakeStore{entity: &models.Spac{
		Ticker: "STALE", Status: models.StatusSearching, Target: "Old Co",
	}}
	a := NewApplier(store)

	_, err := a.Apply(context.Background(), "STALE", "clear_stale_target", nil)
	require.NoError(t, err)
	assert.Empty(t, store.entity.Target)

	engine := validation.New(config.DefaultValidationConfig(), nil, nil)
	for _, issue := range engine.ValidateEntity(store.entity) {
		assert.NotEqual(t, "Searching With Target Set", issue.Rule)
	}
}

func TestSetNullBindsColumnEmptyValues(t *testing.T) {
	store := &fakeStore{entity: &models.Spac{
		Ticker: "NULLS", Status: models.StatusSearching,
		Target:  "Old Co",
		Premium: f(3.2),
	}}
	a := NewApplier(store)
	a.Register(&Template{
		ID: "clear_both",
		Changes: []Change{
			{Field: "target", Action: ActionSetNull},
			{Field: "premium", Action: ActionSetNull},
		},
		PostChecks: []Condition{
			{Field: "target", Op: OpAbsent},
			{Field: "premium", Op: OpAbsent},
		},
	})

	_, err := a.Apply(context.Background(), "NULLS", "clear_both", nil)
	require.NoError(t, err)
	require.Len(t, store.updates, 1)

	// Text columns are NOT NULL DEFAULT '', so clearing one must bind the
	// empty string, never SQL NULL. Numeric columns are nullable.
	v, ok := store.updates[0]["target"]
	require.True(t, ok)
	assert.Equal(t, "", v)
	v, ok = store.updates[0]["premium"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestConditionNotEquals(t *testing.T) {
	s := &models.Spac{Ticker: "NE", Status: models.StatusSearching, Target: "Old Co"}
	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{Field: "target", Op: OpNotEquals, Value: "New Co"}, true},
		{Condition{Field: "target", Op: OpNotEquals, Value: "Old Co"}, false},
		// An absent field differs from any operand.
		{Condition{Field: "announced_date", Op: OpNotEquals, Value: "2025-01-01"}, true},
	}
	for _, tc := range tests {
		got, err := tc.cond.evaluate(s)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %s %q", tc.cond.Field, tc.cond.Op, tc.cond.Value)
	}
}

func TestConditionAgeLessThan(t *testing.T) {
	recent := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	old := time.Now().AddDate(0, 0, -45).Format("2006-01-02")
	s := &models.Spac{Ticker: "AGE", AnnouncedDate: recent, IPODate: old}

	got, err := Condition{Field: "announced_date", Op: OpAgeLessThan, Value: "30"}.evaluate(s)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Condition{Field: "ipo_date", Op: OpAgeLessThan, Value: "30"}.evaluate(s)
	require.NoError(t, err)
	assert.False(t, got)

	// An absent date never satisfies an age bound.
	got, err = Condition{Field: "deadline_date", Op: OpAgeLessThan, Value: "30"}.evaluate(s)
	require.NoError(t, err)
	assert.False(t, got)

	_, err = Condition{Field: "target", Op: OpAgeLessThan, Value: "30"}.
		evaluate(&models.Spac{Target: "Not A Date"})
	require.Error(t, err)

	_, err = Condition{Field: "announced_date", Op: OpAgeLessThan, Value: "soon"}.evaluate(s)
	require.Error(t, err)
}

func TestConditionsNotMetWritesNothing(t *testing.T) {
	// clear_stale_target requires status searching.
	store := &fakeStore{entity: &models.Spac{
		Ticker: "ANN", Status: models.StatusAnnounced, Target: "Real Co",
	}}
	a := NewApplier(store)

	_, err := a.Apply(context.Background(), "ANN", "clear_stale_target", nil)
	require.ErrorIs(t, err, ErrConditionsNotMet)
	assert.Empty(t, store.updates)
	assert.Equal(t, "Real Co", store.entity.Target)
}

func TestFormulaWithoutResultWritesNothing(t *testing.T) {
	// ipo_proceeds is present but not parseable as money, so the formula
	// has no result and the template must not write a partial state.
	store := &fakeStore{entity: &models.Spac{
		Ticker: "BAD", Status: models.StatusSearching,
		IPOProceeds: "about right",
		TrustCash:   f(454_500_000),
	}}
	a := NewApplier(store)

	_, err := a.Apply(context.Background(), "BAD", "recalculate_from_424b4", nil)
	require.Error(t, err)
	assert.Empty(t, store.updates)
	require.NotNil(t, store.entity.TrustCash)
	assert.InDelta(t, 454_500_000, *store.entity.TrustCash, 0.1)
}

func TestPostApplyVerificationRollsBack(t *testing.T) {
	store := &fakeStore{
		entity: &models.Spac{
			Ticker: "RACE", Status: models.StatusSearching, Target: "Ghost Co",
		},
		ignoreWrites: true,
	}
	a := NewApplier(store)

	_, err := a.Apply(context.Background(), "RACE", "clear_stale_target", nil)
	require.ErrorIs(t, err, ErrPostCheckFailed)
	require.Len(t, store.updates, 2)
	assert.Equal(t, []string{"fix", "rollback"}, store.changeTypes)
	assert.Equal(t, "Ghost Co", store.updates[1]["target"], "rollback restores the snapshot")
}

func TestSetValueOverride(t *testing.T) {
	store := &fakeStore{entity: &models.Spac{
		Ticker: "OVR", Status: models.StatusSearching,
	}}
	a := NewApplier(store)
	a.Register(&Template{
		ID: "set_deadline",
		Changes: []Change{
			{Field: "deadline_date", Action: ActionSetValue, Value: "2027-01-01"},
		},
		PostChecks: []Condition{{Field: "deadline_date", Op: OpPresent}},
	})

	_, err := a.Apply(context.Background(), "OVR", "set_deadline", map[string]string{
		"deadline_date": "2027-06-30",
	})
	require.NoError(t, err)
	assert.Equal(t, "2027-06-30", store.entity.DeadlineDate)
}

func TestUnknownTemplate(t *testing.T) {
	a := NewApplier(&fakeStore{entity: &models.Spac{Ticker: "X"}})
	_, err := a.Apply(context.Background(), "X", "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fix template")
}

func TestTrustCashRecalculation(t *testing.T) {
	store := &fakeStore{entity: &models.Spac{
		Ticker: "CORR", Status: models.StatusSearching,
		IPOProceeds: "$100M",
		TrustCash:   f(454_500_000),
	}}
	a := NewApplier(store)

	_, err := a.Apply(context.Background(), "CORR", "recalculate_from_424b4", nil)
	require.NoError(t, err)
	require.NotNil(t, store.entity.TrustCash)
	assert.InDelta(t, 100_000_000, *store.entity.TrustCash, 0.1)
}
