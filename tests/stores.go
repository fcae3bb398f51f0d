package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
)

// Stores bundles the persistence of one backend.
type Stores struct {
	Nodes  matrix.NodeStore
	Ledger matrix.Ledger
	Lease  matrix.Lease
}

var joined = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func node(id, parentID, sponsorID string, level, position int, path string) matrix.Node {
	return matrix.Node{
		UserID:    id,
		Username:  id,
		Tier:      plan.TierBronze,
		SponsorID: sponsorID,
		ParentID:  parentID,
		Level:     level,
		Position:  position,
		Path:      path,
		Slots:     matrix.EmptySlots(3),
		IsActive:  true,
		JoinedAt:  joined,
	}
}

func AssertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// RunStoreTests checks a backend against the NodeStore, Ledger and Lease contracts.
// open must return empty stores.
func RunStoreTests(t *testing.T, open func(t *testing.T) Stores) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.GetNode(ctx, "root")
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))
		_, err = s.Nodes.RootNode(ctx)
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))

		_, err = s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)
		_, err = s.Nodes.CreateNode(ctx, node("a", "root", "root", 2, 1, "1.1"))
		require.NoError(t, err)

		got, err := s.Nodes.GetNode(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", got.UserID)
		assert.Equal(t, plan.TierBronze, got.Tier)
		assert.Equal(t, "root", got.ParentID)
		assert.Equal(t, "root", got.SponsorID)
		assert.Equal(t, 2, got.Level)
		assert.Equal(t, "1.1", got.Path)
		assert.True(t, got.IsActive)
		assert.True(t, joined.Equal(got.JoinedAt))
		require.Len(t, got.Slots, 3)
		for i, slot := range got.Slots {
			assert.Equal(t, i+1, slot.Position)
			assert.False(t, slot.Filled())
		}

		root, err := s.Nodes.RootNode(ctx)
		require.NoError(t, err)
		assert.Equal(t, "root", root.UserID)
		assert.True(t, root.IsRoot())

		ids, err := s.Nodes.ListNodeIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"root", "a"}, ids)
	})

	t.Run("CreateRejectsDuplicates", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)

		_, err = s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		assert.Equal(t, matrix.ErrDuplicateNode, errors.Cause(err))

		_, err = s.Nodes.CreateNode(ctx, node("other", "", "", 1, 1, "2"))
		assert.Equal(t, matrix.ErrRootAlreadyExists, errors.Cause(err))
	})

	t.Run("TrySetSlot", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)

		ok, err := s.Nodes.TrySetSlot(ctx, "root", 2, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Nodes.TrySetSlot(ctx, "root", 2, "b")
		require.NoError(t, err)
		assert.False(t, ok, "filled slot must not be claimed again")

		_, err = s.Nodes.TrySetSlot(ctx, "ghost", 1, "b")
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))
		_, err = s.Nodes.TrySetSlot(ctx, "root", 4, "b")
		assert.Equal(t, matrix.ErrInvalidSlot, errors.Cause(err))

		root, err := s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, "a", root.Slots[1].ChildID)
		assert.False(t, root.Slots[1].FilledAt.IsZero())
		pos, ok := root.OpenPosition()
		assert.True(t, ok)
		assert.Equal(t, 1, pos)
	})

	t.Run("RejectsBlankIDs", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("", "", "", 1, 1, matrix.RootPath))
		assert.Equal(t, matrix.ErrBlankUserID, errors.Cause(err))
		_, err = s.Nodes.RootNode(ctx)
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))

		_, err = s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)
		_, err = s.Nodes.CreateNode(ctx, node("  ", "root", "root", 2, 1, "1.1"))
		assert.Equal(t, matrix.ErrBlankUserID, errors.Cause(err))

		for _, id := range []string{"", "  "} {
			ok, err := s.Nodes.TrySetSlot(ctx, "root", 1, id)
			assert.Equal(t, matrix.ErrBlankUserID, errors.Cause(err), "%q", id)
			assert.False(t, ok)
		}

		// the slot is still claimable
		ok, err := s.Nodes.TrySetSlot(ctx, "root", 1, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("TrySetSlotIsExclusive", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)

		const n = 20
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.Nodes.TrySetSlot(ctx, "root", 1, "child-"+string(rune('a'+i)))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ReleaseSlot", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)
		ok, err := s.Nodes.TrySetSlot(ctx, "root", 1, "a")
		require.NoError(t, err)
		require.True(t, ok)

		// held by someone else: untouched
		require.NoError(t, s.Nodes.ReleaseSlot(ctx, "root", 1, "b"))
		root, err := s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, "a", root.Slots[0].ChildID)

		require.NoError(t, s.Nodes.ReleaseSlot(ctx, "root", 1, "a"))
		root, err = s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		assert.False(t, root.Slots[0].Filled())
		assert.True(t, root.Slots[0].FilledAt.IsZero())
	})

	t.Run("UpdateNode", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)

		gold, inactive, level := plan.TierGold, false, 3
		got, err := s.Nodes.UpdateNode(ctx, "root", matrix.NodeUpdate{Tier: &gold, TLILevel: &level})
		require.NoError(t, err)
		assert.Equal(t, plan.TierGold, got.Tier)
		assert.Equal(t, 3, got.TLILevel)
		assert.True(t, got.IsActive)

		got, err = s.Nodes.UpdateNode(ctx, "root", matrix.NodeUpdate{IsActive: &inactive})
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, plan.TierGold, got.Tier)

		_, err = s.Nodes.UpdateNode(ctx, "ghost", matrix.NodeUpdate{Tier: &gold})
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))
	})

	t.Run("Recruits", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)

		recruit := matrix.RecruitedLeader{UserID: "a", Username: "a", PlacementPath: "1.1", Active: true, RecruitedAt: joined}
		require.NoError(t, s.Nodes.AddRecruit(ctx, "root", recruit))
		require.NoError(t, s.Nodes.AddRecruit(ctx, "root", recruit), "adding twice is a no-op")
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(s.Nodes.AddRecruit(ctx, "ghost", recruit)))

		require.NoError(t, s.Nodes.UpdateRecruit(ctx, "root", "a", 2, false))
		err = s.Nodes.UpdateRecruit(ctx, "root", "zz", 1, true)
		assert.Equal(t, matrix.ErrNodeNotFound, errors.Cause(err))

		root, err := s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		require.Len(t, root.RecruitedLeaders, 1)
		got := root.RecruitedLeaders[0]
		assert.Equal(t, "a", got.UserID)
		assert.Equal(t, "1.1", got.PlacementPath)
		assert.Equal(t, 2, got.CurrentLevel)
		assert.False(t, got.Active)
	})

	t.Run("LedgerCreditsOnce", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)
		_, err = s.Nodes.CreateNode(ctx, node("a", "root", "root", 2, 1, "1.1"))
		require.NoError(t, err)

		sale := matrix.Sale{ID: "s1", BuyerID: "b", Amount: decimal.NewFromInt(1000), PointValue: decimal.NewFromInt(25), CreatedAt: joined}
		records := []matrix.Record{
			{RecipientID: "a", Type: matrix.CommissionISP, Rate: decimal.RequireFromString("0.18"), Amount: decimal.RequireFromString("180.00"), BuyerID: "b"},
			{RecipientID: "a", Type: matrix.CommissionTSC, Generation: 2, Rate: decimal.RequireFromString("0.1"), Amount: decimal.RequireFromString("100.00"), BuyerID: "b"},
			{RecipientID: "root", Type: matrix.CommissionTSC, Generation: 3, Rate: decimal.RequireFromString("0.05"), Amount: decimal.RequireFromString("50.00"), BuyerID: "b"},
		}

		_, err = s.Ledger.SaleRecords(ctx, "s1")
		assert.Equal(t, matrix.ErrSaleNotFound, errors.Cause(err))

		ok, err := s.Ledger.RecordSale(ctx, sale, records)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Ledger.RecordSale(ctx, sale, records)
		require.NoError(t, err)
		assert.False(t, ok, "a sale id is only recorded once")

		got, err := s.Ledger.SaleRecords(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range records {
			assert.Equal(t, records[i].RecipientID, got[i].RecipientID)
			assert.Equal(t, records[i].Type, got[i].Type)
			assert.Equal(t, records[i].Generation, got[i].Generation)
			AssertDecimal(t, records[i].Amount.String(), got[i].Amount)
		}

		a, err := s.Nodes.GetNode(ctx, "a")
		require.NoError(t, err)
		AssertDecimal(t, "180", a.Commissions.ISP.TotalEarned)
		AssertDecimal(t, "180", a.Commissions.ISP.ThisMonth)
		AssertDecimal(t, "100", a.Commissions.TSC.TotalEarned)
		AssertDecimal(t, "100", a.Commissions.TSCByGeneration[2])

		root, err := s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		AssertDecimal(t, "0", root.Commissions.ISP.TotalEarned)
		AssertDecimal(t, "50", root.Commissions.TSC.ThisMonth)
		AssertDecimal(t, "50", root.Commissions.TSCByGeneration[3])

		// a sale that pays nobody is still recorded
		ok, err = s.Ledger.RecordSale(ctx, matrix.Sale{ID: "s2", BuyerID: "root", CreatedAt: joined}, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = s.Ledger.SaleRecords(ctx, "s2")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("LedgerSalesAndVolume", func(t *testing.T) {
		s := open(t)
		_, err := s.Ledger.GetSale(ctx, "s1")
		assert.Equal(t, matrix.ErrSaleNotFound, errors.Cause(err))

		for i, sale := range []matrix.Sale{
			{ID: "s1", BuyerID: "a", Amount: decimal.RequireFromString("100.50"), PointValue: decimal.NewFromInt(10), CreatedAt: joined},
			{ID: "s2", BuyerID: "b", Amount: decimal.RequireFromString("20.25"), CreatedAt: joined},
			{ID: "s3", BuyerID: "a", Amount: decimal.NewFromInt(5), CreatedAt: joined},
			{ID: "s4", BuyerID: "c", Amount: decimal.NewFromInt(1000), CreatedAt: joined},
		} {
			ok, err := s.Ledger.RecordSale(ctx, sale, nil)
			require.NoError(t, err, i)
			require.True(t, ok, i)
		}
		// a replay with another amount keeps the first one
		ok, err := s.Ledger.RecordSale(ctx, matrix.Sale{ID: "s1", BuyerID: "a", Amount: decimal.NewFromInt(9), CreatedAt: joined}, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		sale, err := s.Ledger.GetSale(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "a", sale.BuyerID)
		AssertDecimal(t, "100.5", sale.Amount)
		AssertDecimal(t, "10", sale.PointValue)
		assert.True(t, joined.Equal(sale.CreatedAt))

		vol, err := s.Ledger.SalesVolume(ctx, []string{"a", "b", "ghost"})
		require.NoError(t, err)
		AssertDecimal(t, "125.75", vol)

		vol, err = s.Ledger.SalesVolume(ctx, nil)
		require.NoError(t, err)
		AssertDecimal(t, "0", vol)
	})

	t.Run("ResetMonth", func(t *testing.T) {
		s := open(t)
		_, err := s.Nodes.CreateNode(ctx, node("root", "", "", 1, 1, matrix.RootPath))
		require.NoError(t, err)
		sale := matrix.Sale{ID: "s1", BuyerID: "b", Amount: decimal.NewFromInt(100), CreatedAt: joined}
		_, err = s.Ledger.RecordSale(ctx, sale, []matrix.Record{
			{RecipientID: "root", Type: matrix.CommissionISP, Rate: decimal.RequireFromString("0.25"), Amount: decimal.RequireFromString("25"), BuyerID: "b"},
		})
		require.NoError(t, err)

		require.NoError(t, s.Nodes.ResetMonth(ctx))
		root, err := s.Nodes.GetNode(ctx, "root")
		require.NoError(t, err)
		AssertDecimal(t, "25", root.Commissions.ISP.TotalEarned)
		AssertDecimal(t, "0", root.Commissions.ISP.ThisMonth)
		AssertDecimal(t, "25", root.Commissions.ISP.LastMonth)
	})

	t.Run("Lease", func(t *testing.T) {
		s := open(t)
		ok, err := s.Lease.Acquire(ctx, "job", "one", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Lease.Acquire(ctx, "job", "two", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "held by another owner")

		ok, err = s.Lease.Acquire(ctx, "job", "one", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "owner may renew")

		ok, err = s.Lease.Acquire(ctx, "other-job", "two", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "leases are per name")

		require.NoError(t, s.Lease.Release(ctx, "job", "two"), "releasing someone else's lease is a no-op")
		ok, err = s.Lease.Acquire(ctx, "job", "two", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Lease.Release(ctx, "job", "one"))
		ok, err = s.Lease.Acquire(ctx, "job", "two", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("LeaseExpires", func(t *testing.T) {
		s := open(t)
		ok, err := s.Lease.Acquire(ctx, "job", "one", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(30 * time.Millisecond)
		ok, err = s.Lease.Acquire(ctx, "job", "two", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "an expired lease can be taken over")
	})
}
