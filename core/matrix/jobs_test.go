package matrix_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	testutil "github.com/trezcool/downline/tests"
)

// phasedEnv: R recruits A, B, C; each of them recruits two leaves.
func phasedEnv(t *testing.T, opts ...matrix.Option) env {
	e := newEnv(t, plan.Phased(), opts...)
	e.place(t, "R", "")
	for _, leader := range []string{"A", "B", "C"} {
		e.place(t, leader, "R")
	}
	for _, leader := range []string{"A", "B", "C"} {
		e.place(t, leader+"1", leader)
		e.place(t, leader+"2", leader)
	}
	return e
}

func TestQualificationPass_ConvergesInOnePass(t *testing.T) {
	ctx := context.Background()
	e := phasedEnv(t, matrix.WithJobConcurrency(2))

	res, err := e.svc.RunQualificationPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Nodes)
	assert.Equal(t, 10, res.Changed)

	// leaves: level 1; A, B, C: two level-1 recruits -> 2; R: three level-2 recruits -> 3
	assert.Equal(t, 1, e.node(t, "A1").TLILevel)
	for _, id := range []string{"A", "B", "C"} {
		n := e.node(t, id)
		assert.Equal(t, 2, n.TLILevel, id)
		assert.Equal(t, 2, n.QualifiedLeaders, id)
	}
	r := e.node(t, "R")
	assert.Equal(t, 3, r.TLILevel)
	assert.Equal(t, 3, r.QualifiedLeaders)
	for _, rl := range r.RecruitedLeaders {
		assert.Equal(t, 2, rl.CurrentLevel, rl.UserID)
	}

	again, err := e.svc.RunQualificationPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Changed, "a second pass has nothing to do")
}

func TestQualificationPass_PropagatesInactivity(t *testing.T) {
	ctx := context.Background()
	e := phasedEnv(t)
	_, err := e.svc.RunQualificationPass(ctx)
	require.NoError(t, err)

	_, err = e.svc.SetActive(ctx, "C", false)
	require.NoError(t, err)
	_, err = e.svc.RunQualificationPass(ctx)
	require.NoError(t, err)

	r := e.node(t, "R")
	assert.Equal(t, 2, r.TLILevel, "only two active level-2 leaders left")
	ok, err := e.svc.EvaluateQualification(ctx, "R", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobs_SingleFlight(t *testing.T) {
	ctx := context.Background()
	e := phasedEnv(t)

	ok, err := e.stores.Lease.Acquire(ctx, matrix.LeaseQualification, "another-instance", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.svc.RunQualificationPass(ctx)
	assert.Equal(t, matrix.ErrJobRunning, errors.Cause(err))
	assert.Equal(t, matrix.KindConcurrency, matrix.Kind(err))

	// other jobs hold their own lease
	require.NoError(t, e.svc.RunMonthlyReset(ctx))

	require.NoError(t, e.stores.Lease.Release(ctx, matrix.LeaseQualification, "another-instance"))
	_, err = e.svc.RunQualificationPass(ctx)
	assert.NoError(t, err)

	// the lease is released after each run
	ok, err = e.stores.Lease.Acquire(ctx, matrix.LeaseQualification, "another-instance", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMonthlyReset(t *testing.T) {
	ctx := context.Background()
	e := phasedEnv(t)
	e.setTier(t, "R", plan.TierSilver)

	_, err := e.svc.ProcessSale(ctx, matrix.Sale{ID: "s1", BuyerID: "A", Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)
	require.NoError(t, e.svc.RunMonthlyReset(ctx))
	_, err = e.svc.ProcessSale(ctx, matrix.Sale{ID: "s2", BuyerID: "A", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	isp := e.node(t, "R").Commissions.ISP
	testutil.AssertDecimal(t, "75", isp.TotalEarned)
	testutil.AssertDecimal(t, "25", isp.ThisMonth)
	testutil.AssertDecimal(t, "50", isp.LastMonth)
}
