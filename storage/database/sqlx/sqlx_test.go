package sqlxrepos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/storage/database"
	testutil "github.com/trezcool/downline/tests"
)

func TestStores(t *testing.T) {
	testutil.RunStoreTests(t, func(t *testing.T) testutil.Stores {
		db := testutil.OpenSQLiteDB(t)
		return testutil.Stores{Nodes: NewNodeStore(db), Ledger: NewLedger(db), Lease: NewLease(db)}
	})
}

func TestMigrateDownAndUp(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLiteDB(t)

	require.NoError(t, database.Migrate(ctx, db, "down-to", "0"))
	var n int
	err := db.Get(&n, `SELECT COUNT(*) FROM matrix_node`)
	assert.Error(t, err, "tables are gone")

	require.NoError(t, database.Migrate(ctx, db, "up"))
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM matrix_node`))
	assert.Zero(t, n)
}

func TestIsUniqueViolation(t *testing.T) {
	db := testutil.OpenSQLiteDB(t)
	_, err := db.Exec(`INSERT INTO job_lease (name, owner, expires_at) VALUES ('a', 'x', '2024-01-01 00:00:00+00:00')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO job_lease (name, owner, expires_at) VALUES ('a', 'y', '2024-01-01 00:00:00+00:00')`)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(assert.AnError))
}
