// Package database provides test database client construction.
package database

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbc1017/hollon-ai-sub009/pkg/database"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	"github.com/pbc1017/hollon-ai-sub009/test/util"
)

// NewTestClient creates a test database client over a migrated per-test
// schema. In CI (when CI_DATABASE_URL is set) it connects to the external
// PostgreSQL service container; locally it spins up a shared testcontainer.
// Cleanup (schema drop and connection close) is registered on t.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	pool, db := util.SetupTestDatabase(t)
	return database.NewClientFromPool(pool, db, database.Config{Database: "test"})
}

// NewTestPool returns just the migrated pgx pool for store-level tests.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, _ := util.SetupTestDatabase(t)
	return pool
}

// NewTestStore returns a Store over a migrated per-test schema.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(NewTestPool(t))
}
