package database

import (
	"context"
	"time"
)

// HealthCheck pings the database with a short timeout. Used by the API
// health endpoint and the scheduler's service checks.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}
