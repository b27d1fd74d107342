package agents

import (
	"context"

	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
)

// EntityStore is the slice of the repository agents are allowed to touch.
// All writes are audited by the repository; agents never run raw SQL.
type EntityStore interface {
	ByTicker(ctx context.Context, ticker string) (*models.Spac, error)
	ListActive(ctx context.Context) ([]*models.Spac, error)
	Update(ctx context.Context, ticker string, changes map[string]any, opts repo.UpdateOptions) (map[string]repo.FieldChange, error)
}

// NotifyPort delivers operator alerts. Agents depend on this interface,
// never on the chat transport, so there are no cycles in the ownership
// graph.
type NotifyPort interface {
	Notify(ctx context.Context, alert models.Alert) error
}
