package fixes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
)

// ErrConditionsNotMet means the entity's current state does not match the
// template's preconditions; nothing was written.
var ErrConditionsNotMet = errors.New("fix template conditions not met")

// ErrPostCheckFailed means the simulated result failed a post-check;
// nothing was written.
var ErrPostCheckFailed = errors.New("fix template post-check failed")

// EntityStore is the slice of the repository the applier needs.
type EntityStore interface {
	ByTicker(ctx context.Context, ticker string) (*models.Spac, error)
	Update(ctx context.Context, ticker string, changes map[string]any, opts repo.UpdateOptions) (map[string]repo.FieldChange, error)
}

// Applier resolves and applies fix templates.
type Applier struct {
	store     EntityStore
	templates map[string]*Template
	logger    *slog.Logger
}

// NewApplier creates an Applier seeded with the built-in templates.
func NewApplier(store EntityStore) *Applier {
	return &Applier{
		store:     store,
		templates: Builtins(),
		logger:    slog.Default().With("component", "fixes"),
	}
}

// Register adds or replaces a template.
func (a *Applier) Register(t *Template) {
	a.templates[t.ID] = t
}

// Template returns a registered template by id.
func (a *Applier) Template(id string) (*Template, bool) {
	t, ok := a.templates[id]
	return t, ok
}

// Apply runs one template against one entity. Overrides replace the
// literal value of matching set_value changes. Either every change
// commits in a single audited update or none does; if the written state
// fails post-checks on re-read, the pre-fix snapshot is restored.
func (a *Applier) Apply(ctx context.Context, ticker, templateID string, overrides map[string]string) (map[string]repo.FieldChange, error) {
	tmpl, ok := a.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown fix template %q", templateID)
	}

	entity, err := a.store.ByTicker(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ticker, err)
	}

	for _, cond := range tmpl.Conditions {
		met, err := cond.evaluate(entity)
		if err != nil {
			return nil, fmt.Errorf("evaluating condition on %s: %w", cond.Field, err)
		}
		if !met {
			return nil, fmt.Errorf("%w: %s %s", ErrConditionsNotMet, cond.Field, cond.Op)
		}
	}

	// Snapshot the fields about to change so a failed verification can be
	// rolled back to the exact prior state.
	snapshot := make(map[string]any, len(tmpl.Changes))
	for _, change := range tmpl.Changes {
		snapshot[change.Field] = rawValue(entity, change.Field)
	}

	// Compute every change against a working copy first. Formulas see the
	// copy, so a change may build on an earlier one within the template.
	working := *entity
	changes := make(map[string]any, len(tmpl.Changes))
	for _, change := range tmpl.Changes {
		value, err := a.resolveChange(&working, change, overrides)
		if err != nil {
			return nil, err
		}
		if err := setField(&working, change.Field, value); err != nil {
			return nil, err
		}
		changes[change.Field] = value
	}

	// Post-checks run on the simulated result before anything is written.
	if err := a.runPostChecks(tmpl, &working); err != nil {
		return nil, err
	}

	applied, err := a.store.Update(ctx, ticker, changes, repo.UpdateOptions{
		Source:     "fix:" + templateID,
		ChangeType: "fix",
	})
	if err != nil {
		return nil, fmt.Errorf("applying %s to %s: %w", templateID, ticker, err)
	}

	// Verify the stored state. A divergence here means something else
	// raced the fix; restore the snapshot rather than leave a half-state.
	fresh, err := a.store.ByTicker(ctx, ticker)
	if err == nil {
		if verr := a.runPostChecks(tmpl, fresh); verr != nil {
			a.logger.Warn("Post-apply verification failed, rolling back",
				"ticker", ticker, "template", templateID, "error", verr)
			if _, rerr := a.store.Update(ctx, ticker, snapshot, repo.UpdateOptions{
				Source:     "fix:" + templateID,
				ChangeType: "rollback",
			}); rerr != nil {
				return nil, fmt.Errorf("rollback of %s failed: %w", templateID, rerr)
			}
			return nil, verr
		}
	}

	a.logger.Info("Fix applied",
		"ticker", ticker, "template", templateID, "fields", len(applied))
	return applied, nil
}

// resolveChange computes the value a change wants to write.
func (a *Applier) resolveChange(s *models.Spac, change Change, overrides map[string]string) (any, error) {
	switch change.Action {
	case ActionSetValue:
		value := change.Value
		if override, ok := overrides[change.Field]; ok {
			value = override
		}
		if numericFields[change.Field] {
			f, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("field %s needs a numeric value, got %q", change.Field, value)
			}
			return f, nil
		}
		return value, nil
	case ActionSetNull:
		// Numeric columns are nullable; text columns are NOT NULL with an
		// empty-string default, so clearing one binds '' rather than NULL.
		if numericFields[change.Field] {
			return nil, nil
		}
		return "", nil
	case ActionCalculate:
		formula, ok := formulas[change.Formula]
		if !ok {
			return nil, fmt.Errorf("unknown formula %q", change.Formula)
		}
		value, ok := formula(s)
		if !ok {
			return nil, fmt.Errorf("formula %q has no result for this entity", change.Formula)
		}
		return value, nil
	}
	return nil, fmt.Errorf("unknown change action %q", change.Action)
}

func (a *Applier) runPostChecks(tmpl *Template, s *models.Spac) error {
	for _, check := range tmpl.PostChecks {
		met, err := check.evaluate(s)
		if err != nil {
			return fmt.Errorf("evaluating post-check on %s: %w", check.Field, err)
		}
		if !met {
			return fmt.Errorf("%w: %s %s", ErrPostCheckFailed, check.Field, check.Op)
		}
	}
	return nil
}
