// Package dbtest starts throwaway PostGIS containers for repository tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/cropsight/platform/pkg/common/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

const Image = "postgis/postgis:16-3.4-alpine"

// PostGIS returns a gorm handle on a fresh PostGIS database. The test is
// skipped in short mode or when no container runtime is reachable.
func PostGIS(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgis integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("cropsight"),
		postgres.WithUsername("cropsight"),
		postgres.WithPassword("cropsight"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgis container unavailable: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.ClosePostgres(db) })
	require.NoError(t, db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error)
	return db
}
