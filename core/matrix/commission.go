package matrix

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/plan"
)

// amountPlaces is the precision commissions are rounded to (cents).
const amountPlaces = 2

// Calculator turns sales into ISP and TSC commission records.
type Calculator struct {
	store   NodeStore
	ledger  Ledger
	plan    plan.Plan
	metrics Metrics
	log     core.Logger
	now     func() time.Time
}

func NewCalculator(store NodeStore, ledger Ledger, p plan.Plan, opts ...Option) *Calculator {
	o := newOptions(opts)
	return &Calculator{
		store:   store,
		ledger:  ledger,
		plan:    p,
		metrics: o.metrics,
		log:     o.logger,
		now:     o.now,
	}
}

// Compute returns the commissions a sale of amount by buyerID produces, ISP first then TSC by ascending generation.
// It has no side effects.
func (c *Calculator) Compute(ctx context.Context, buyerID string, amount decimal.Decimal) ([]Record, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	buyer, err := c.store.GetNode(ctx, buyerID)
	if err != nil {
		if errors.Cause(err) == ErrNodeNotFound {
			return nil, errors.Wrapf(ErrBuyerNotFound, "buyer %s", buyerID)
		}
		return nil, errors.Wrap(err, "getting buyer")
	}

	var records []Record

	if buyer.SponsorID != "" {
		rec, ok, err := c.isp(ctx, buyer, amount)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}

	tsc, err := c.tsc(ctx, buyer, amount)
	if err != nil {
		return nil, err
	}
	return append(records, tsc...), nil
}

func (c *Calculator) isp(ctx context.Context, buyer Node, amount decimal.Decimal) (Record, bool, error) {
	sponsor, err := c.store.GetNode(ctx, buyer.SponsorID)
	if err != nil {
		if errors.Cause(err) == ErrNodeNotFound {
			c.log.Warn("buyer's sponsor is not in the matrix, no ISP paid", map[string]interface{}{
				"buyer": buyer.UserID, "sponsor": buyer.SponsorID,
			})
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "getting sponsor")
	}

	rate, err := c.plan.ISPRate(sponsor.Tier)
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "sponsor %s", sponsor.UserID)
	}
	return Record{
		RecipientID: sponsor.UserID,
		Type:        CommissionISP,
		Rate:        rate,
		Amount:      amount.Mul(rate).Round(amountPlaces),
		BuyerID:     buyer.UserID,
	}, true, nil
}

// tsc walks the placement parent chain; the buyer's parent is generation 2.
func (c *Calculator) tsc(ctx context.Context, buyer Node, amount decimal.Decimal) ([]Record, error) {
	maxGen := c.plan.MaxGeneration()
	records := make([]Record, 0, maxGen)

	parentID := buyer.ParentID
	for gen := 2; gen <= maxGen && parentID != ""; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		upline, err := c.store.GetNode(ctx, parentID)
		if err != nil {
			if errors.Cause(err) == ErrNodeNotFound {
				c.log.Warn("broken parent chain, TSC stops", map[string]interface{}{
					"buyer": buyer.UserID, "missing": parentID, "generation": gen,
				})
				break
			}
			return nil, errors.Wrapf(err, "getting generation %d upline", gen)
		}

		if rate, ok := c.plan.TSCRate(gen); ok {
			records = append(records, Record{
				RecipientID: upline.UserID,
				Type:        CommissionTSC,
				Generation:  gen,
				Rate:        rate,
				Amount:      amount.Mul(rate).Round(amountPlaces),
				BuyerID:     buyer.UserID,
			})
		}
		parentID = upline.ParentID
	}
	return records, nil
}

// Process computes the commissions of sale and records them with the ledger, which credits every recipient.
// A sale id already recorded is not paid twice: the stored sale and records come back with Paid == false.
func (c *Calculator) Process(ctx context.Context, sale Sale) (SaleResult, error) {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = c.now().UTC()
	}

	if prev, err := c.recorded(ctx, sale.ID); err == nil {
		return prev, nil
	} else if errors.Cause(err) != ErrSaleNotFound {
		return SaleResult{}, errors.Wrap(err, "looking up sale")
	}

	records, err := c.Compute(ctx, sale.BuyerID, sale.Amount)
	if err != nil {
		return SaleResult{}, err
	}

	paid, err := c.ledger.RecordSale(ctx, sale, records)
	if err != nil {
		return SaleResult{}, errors.Wrap(err, "recording sale")
	}
	if !paid {
		// lost a race against the same sale id
		prev, err := c.recorded(ctx, sale.ID)
		if err != nil {
			return SaleResult{}, errors.Wrap(err, "reading recorded sale")
		}
		return prev, nil
	}

	for _, r := range records {
		c.metrics.CommissionPaid(r.Type, r.Amount)
	}
	c.log.Info("sale processed", map[string]interface{}{
		"sale": sale.ID, "buyer": sale.BuyerID, "amount": sale.Amount.String(), "records": len(records),
	})
	return SaleResult{Sale: sale, Records: records, Paid: true}, nil
}

func (c *Calculator) recorded(ctx context.Context, saleID string) (SaleResult, error) {
	sale, err := c.ledger.GetSale(ctx, saleID)
	if err != nil {
		return SaleResult{}, err
	}
	records, err := c.ledger.SaleRecords(ctx, saleID)
	if err != nil {
		return SaleResult{}, err
	}
	return SaleResult{Sale: sale, Records: records}, nil
}
