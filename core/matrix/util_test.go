package matrix_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	inmemdb "github.com/trezcool/downline/storage/database/inmem"
	testutil "github.com/trezcool/downline/tests"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	svc    *matrix.Service
	stores testutil.Stores
}

func newEnv(t *testing.T, p plan.Plan, opts ...matrix.Option) env {
	t.Helper()
	require.NoError(t, p.Validate())
	db := inmemdb.Open()
	stores := testutil.Stores{Nodes: inmemdb.NewNodeStore(db), Ledger: inmemdb.NewLedger(db), Lease: inmemdb.NewLease(db)}
	opts = append([]matrix.Option{matrix.WithClock(testutil.Clock(start)), matrix.WithRetryInterval(0)}, opts...)
	return env{
		svc:    matrix.NewService(stores.Nodes, stores.Ledger, stores.Lease, p, opts...),
		stores: stores,
	}
}

func (e env) place(t *testing.T, userID, sponsorID string) matrix.Placement {
	t.Helper()
	return testutil.Place(t, e.svc, userID, sponsorID)
}

func (e env) node(t *testing.T, userID string) matrix.Node {
	t.Helper()
	n, err := e.stores.Nodes.GetNode(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func (e env) setTier(t *testing.T, userID string, tier plan.Tier) {
	t.Helper()
	_, err := e.svc.SetTier(context.Background(), userID, tier)
	require.NoError(t, err)
}

// narrow returns the default plan reshaped to width x depth.
func narrow(width, depth int) plan.Plan {
	p := plan.Default()
	p.Name = "test"
	p.Width = width
	p.MaxDepth = depth
	for gen := range p.TSCRates {
		if gen > depth {
			delete(p.TSCRates, gen)
		}
	}
	return p
}

// assertValidTree checks that the stored nodes form a proper matrix out-tree.
func assertValidTree(t *testing.T, store matrix.NodeStore, width int) {
	t.Helper()
	ctx := context.Background()
	ids, err := store.ListNodeIDs(ctx)
	require.NoError(t, err)

	seen := make(map[string]string) // child -> parent
	roots := 0
	for _, id := range ids {
		n, err := store.GetNode(ctx, id)
		require.NoError(t, err)
		require.Len(t, n.Slots, width, id)

		if n.IsRoot() {
			roots++
			require.Equal(t, 1, n.Level, id)
			require.Equal(t, matrix.RootPath, n.Path, id)
		} else {
			parent, err := store.GetNode(ctx, n.ParentID)
			require.NoError(t, err, id)
			require.Equal(t, parent.Level+1, n.Level, id)
			require.Equal(t, matrix.ChildPath(parent.Path, n.Position), n.Path, id)
			require.Equal(t, id, parent.Slots[n.Position-1].ChildID, "parent slot must hold %s", id)
		}
		for _, s := range n.FilledSlots() {
			prev, dup := seen[s.ChildID]
			require.False(t, dup, "%s sits under both %s and %s", s.ChildID, prev, id)
			seen[s.ChildID] = id
		}
	}
	require.Equal(t, 1, roots)
	require.Len(t, seen, len(ids)-1)
}

type spill struct {
	parentID string
	userID   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []spill
}

func (n *recordingNotifier) SpilloverPlaced(_ context.Context, parentID string, node matrix.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, spill{parentID: parentID, userID: node.UserID})
}
