package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/storage/database"
)

// OpenSQLiteDB returns a migrated in-memory sqlite database, closed when t ends.
func OpenSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, "up"))
	return db
}

// Clock returns a time source starting at start and moving one second per call.
func Clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start.Add(-time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type Placer interface {
	PlaceInMatrix(ctx context.Context, req matrix.PlaceRequest) (matrix.Placement, error)
}

// Place puts userID under sponsorID (root when empty) and fails t on error.
func Place(t *testing.T, svc Placer, userID, sponsorID string) matrix.Placement {
	t.Helper()
	p, err := svc.PlaceInMatrix(context.Background(), matrix.PlaceRequest{
		UserID:    userID,
		SponsorID: sponsorID,
		Username:  strings.ToLower(userID),
	})
	if err != nil {
		t.Fatalf("Place(%s, %s) failed: %v", userID, sponsorID, err)
	}
	return p
}
