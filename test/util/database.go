// Package util provides the shared PostgreSQL setup for integration tests.
// Tests get a migrated database either from TEST_DATABASE_URL (CI service
// container) or from a shared testcontainer started once per package; when
// neither is available the test is skipped.
package util

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spacwatch/spacwatch/pkg/database"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase returns a migrated database isolated in its own schema.
// The schema and connection are cleaned up with the test.
func SetupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	connStr := getOrCreateSharedDatabase(t)
	schema := generateSchemaName(t)

	admin, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(),
			fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schema))
		_ = admin.Close()
	})

	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	client, err := database.NewClient(ctx, database.Config{
		URL:             connStr + sep + "search_path=" + schema,
		Database:        schema,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

// getOrCreateSharedDatabase resolves the base connection string. CI provides
// TEST_DATABASE_URL; local runs share one container for the package.
func getOrCreateSharedDatabase(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("spacwatch_test"),
			tcpostgres.WithUsername("spacwatch"),
			tcpostgres.WithPassword("spacwatch"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("no test database available (set TEST_DATABASE_URL or install Docker): %v", containerErr)
	}
	return sharedConnStr
}

// generateSchemaName derives a unique, valid schema name for one test.
func generateSchemaName(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 4)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	return "test_" + name + "_" + hex.EncodeToString(buf)
}
