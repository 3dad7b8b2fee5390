// Package dbtest gives integration tests a migrated PostgreSQL schema of
// their own. Tests using it are skipped unless DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/database"
)

// EnvURL names the variable holding the connection string.
const EnvURL = "DATABASE_URL"

// Pool connects to DATABASE_URL, creates a throwaway schema, applies every
// migration to it and drops it when the test ends. Test packages run in
// parallel, so each pool sees only its own tables.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set, skipping PostgreSQL test", EnvURL)
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	config, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	config.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(ctx)
	})

	_, err = database.Migrate(ctx, pool, zap.NewNop())
	require.NoError(t, err)
	return pool
}
