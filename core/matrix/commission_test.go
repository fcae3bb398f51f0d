package matrix_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	testutil "github.com/trezcool/downline/tests"
)

var (
	thousand = decimal.NewFromInt(1000)
	pv25     = decimal.NewFromInt(25)
)

// scenario builds R with B1..B7 below it and C spilled under B1, R being GOLD.
func scenario(t *testing.T, opts ...matrix.Option) env {
	e := newEnv(t, plan.Default(), opts...)
	e.place(t, "R", "")
	for i := 1; i <= 7; i++ {
		e.place(t, fmt.Sprintf("B%d", i), "R")
	}
	e.place(t, "C", "R")
	e.setTier(t, "R", plan.TierGold)
	return e
}

func TestComputeCommissions_GoldSponsorWithSpillover(t *testing.T) {
	e := scenario(t)

	records, err := e.svc.ComputeCommissions(context.Background(), "C", thousand, pv25)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "R", records[0].RecipientID)
	assert.Equal(t, matrix.CommissionISP, records[0].Type)
	testutil.AssertDecimal(t, "280", records[0].Amount)
	testutil.AssertDecimal(t, "0.28", records[0].Rate)

	assert.Equal(t, "B1", records[1].RecipientID)
	assert.Equal(t, matrix.CommissionTSC, records[1].Type)
	assert.Equal(t, 2, records[1].Generation)
	testutil.AssertDecimal(t, "100", records[1].Amount)

	assert.Equal(t, "R", records[2].RecipientID)
	assert.Equal(t, 3, records[2].Generation)
	testutil.AssertDecimal(t, "50", records[2].Amount)

	for _, r := range records {
		assert.Equal(t, "C", r.BuyerID)
	}
}

func TestComputeCommissions_Deterministic(t *testing.T) {
	e := scenario(t)
	ctx := context.Background()

	first, err := e.svc.ComputeCommissions(ctx, "C", thousand, pv25)
	require.NoError(t, err)
	second, err := e.svc.ComputeCommissions(ctx, "C", thousand, pv25)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	r := e.node(t, "R")
	testutil.AssertDecimal(t, "0", r.Commissions.ISP.TotalEarned, "computing pays nothing")
}

func TestComputeCommissions_GenerationBound(t *testing.T) {
	// a single line 15 deep: the buyer has 14 ancestors
	p := plan.Default()
	p.Width = 1
	p.MaxDepth = 15
	e := newEnv(t, p)
	e.place(t, "N1", "")
	for i := 2; i <= 15; i++ {
		e.place(t, fmt.Sprintf("N%d", i), fmt.Sprintf("N%d", i-1))
	}

	records, err := e.svc.ComputeCommissions(context.Background(), "N15", thousand, pv25)
	require.NoError(t, err)

	var gens []int
	for _, r := range records {
		if r.Type == matrix.CommissionTSC {
			gens = append(gens, r.Generation)
			assert.Equal(t, fmt.Sprintf("N%d", 16-r.Generation), r.RecipientID, "generation %d", r.Generation)
		}
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10}, gens)
}

func TestComputeCommissions_ISPByTier(t *testing.T) {
	p := plan.Default()
	for tier, rate := range p.ISPRates {
		tier, rate := tier, rate
		t.Run(string(tier), func(t *testing.T) {
			e := newEnv(t, p)
			e.place(t, "S", "")
			e.place(t, "B", "S")
			e.setTier(t, "S", tier)

			records, err := e.svc.ComputeCommissions(context.Background(), "B", thousand, pv25)
			require.NoError(t, err)
			require.NotEmpty(t, records)
			isp := records[0]
			assert.Equal(t, matrix.CommissionISP, isp.Type)
			assert.Equal(t, "S", isp.RecipientID)
			testutil.AssertDecimal(t, thousand.Mul(rate).String(), isp.Amount)
		})
	}
}

func TestComputeCommissions_NoSponsor(t *testing.T) {
	e := scenario(t)
	records, err := e.svc.ComputeCommissions(context.Background(), "R", thousand, pv25)
	require.NoError(t, err)
	assert.Empty(t, records, "the root has neither sponsor nor parent")
}

func TestComputeCommissions_Rounding(t *testing.T) {
	e := scenario(t)
	records, err := e.svc.ComputeCommissions(context.Background(), "C", decimal.RequireFromString("33.33"), pv25)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "9.33", records[0].Amount, "33.33 * 0.28 = 9.3324")
	testutil.AssertDecimal(t, "3.33", records[1].Amount)
	testutil.AssertDecimal(t, "1.67", records[2].Amount, "33.33 * 0.05 = 1.6665")
}

func TestComputeCommissions_Errors(t *testing.T) {
	e := scenario(t)
	ctx := context.Background()

	_, err := e.svc.ComputeCommissions(ctx, "ghost", thousand, pv25)
	assert.Equal(t, matrix.ErrBuyerNotFound, errors.Cause(err))
	assert.Equal(t, matrix.KindStructural, matrix.Kind(err))

	_, err = e.svc.ComputeCommissions(ctx, "C", decimal.NewFromInt(-1), pv25)
	assert.Equal(t, matrix.ErrInvalidAmount, errors.Cause(err))

	// a tier that slipped past validation is an error, not a zero rate
	wood := plan.Tier("WOOD")
	_, err = e.stores.Nodes.UpdateNode(ctx, "R", matrix.NodeUpdate{Tier: &wood})
	require.NoError(t, err)
	_, err = e.svc.ComputeCommissions(ctx, "C", thousand, pv25)
	assert.Equal(t, plan.ErrUnknownTier, errors.Cause(err))
}

func TestProcessSale(t *testing.T) {
	e := scenario(t)
	ctx := context.Background()
	sale := matrix.Sale{ID: "sale-1", BuyerID: "C", Amount: thousand, PointValue: pv25}

	res, err := e.svc.ProcessSale(ctx, sale)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, "sale-1", res.Sale.ID)
	assert.False(t, res.Sale.CreatedAt.IsZero())

	// replaying the sale pays nothing more
	again, err := e.svc.ProcessSale(ctx, sale)
	require.NoError(t, err)
	assert.False(t, again.Paid)
	assert.Len(t, again.Records, 3)

	r := e.node(t, "R")
	testutil.AssertDecimal(t, "280", r.Commissions.ISP.TotalEarned)
	testutil.AssertDecimal(t, "280", r.Commissions.ISP.ThisMonth)
	testutil.AssertDecimal(t, "50", r.Commissions.TSC.TotalEarned)
	testutil.AssertDecimal(t, "50", r.Commissions.TSCByGeneration[3])

	b1 := e.node(t, "B1")
	testutil.AssertDecimal(t, "0", b1.Commissions.ISP.TotalEarned)
	testutil.AssertDecimal(t, "100", b1.Commissions.TSC.ThisMonth)
	testutil.AssertDecimal(t, "100", b1.Commissions.TSCByGeneration[2])

	stored, err := e.svc.SaleCommissions(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, res.Records, stored)
}

func TestProcessSale_ReplayReturnsRecordedSale(t *testing.T) {
	e := scenario(t)
	ctx := context.Background()

	first, err := e.svc.ProcessSale(ctx, matrix.Sale{ID: "sale-1", BuyerID: "C", Amount: thousand, PointValue: pv25})
	require.NoError(t, err)
	require.True(t, first.Paid)

	again, err := e.svc.ProcessSale(ctx, matrix.Sale{ID: "sale-1", BuyerID: "C", Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.False(t, again.Paid)
	testutil.AssertDecimal(t, "1000", again.Sale.Amount)
	testutil.AssertDecimal(t, "25", again.Sale.PointValue)
	assert.Equal(t, first.Sale.CreatedAt, again.Sale.CreatedAt)
	testutil.AssertDecimal(t, "280", again.Records[0].Amount)

	testutil.AssertDecimal(t, "280", e.node(t, "R").Commissions.ISP.TotalEarned)
}

func TestProcessSale_GeneratesID(t *testing.T) {
	e := scenario(t)
	res, err := e.svc.ProcessSale(context.Background(), matrix.Sale{BuyerID: "C", Amount: thousand})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Sale.ID)
	assert.True(t, res.Paid)
}

func TestProcessSale_UnknownBuyerRecordsNothing(t *testing.T) {
	e := scenario(t)
	ctx := context.Background()
	_, err := e.svc.ProcessSale(ctx, matrix.Sale{ID: "s", BuyerID: "ghost", Amount: thousand})
	assert.Equal(t, matrix.ErrBuyerNotFound, errors.Cause(err))

	_, err = e.svc.SaleCommissions(ctx, "s")
	assert.Equal(t, matrix.ErrSaleNotFound, errors.Cause(err))
}
