package matrix

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/plan"
)

// Service is the entry point of the matrix engine for the api and admin apps.
type Service struct {
	store NodeStore
	plan  plan.Plan
	log   core.Logger

	engine     *Engine
	calculator *Calculator
	evaluator  *Evaluator
	reporter   *Reporter
	jobs       *Jobs
}

func NewService(store NodeStore, ledger Ledger, lease Lease, p plan.Plan, opts ...Option) *Service {
	evaluator := NewEvaluator(store, p)
	return &Service{
		store:      store,
		plan:       p,
		log:        newOptions(opts).logger,
		engine:     NewEngine(store, p, opts...),
		calculator: NewCalculator(store, ledger, p, opts...),
		evaluator:  evaluator,
		reporter:   NewReporter(store, ledger, p.Width, p.MaxDepth),
		jobs:       NewJobs(store, lease, evaluator, opts...),
	}
}

func (svc *Service) Plan() plan.Plan { return svc.plan }

func (svc *Service) PlaceInMatrix(ctx context.Context, req PlaceRequest) (Placement, error) {
	req.UserID = core.CleanString(req.UserID)
	req.SponsorID = core.CleanString(req.SponsorID)
	req.Username = core.CleanString(req.Username, true /* lower */)
	req.Tier = normalizeTier(req.Tier)

	placement, err := svc.engine.Place(ctx, req)
	if err != nil {
		return Placement{}, err
	}
	svc.log.Info("user placed in matrix", map[string]interface{}{
		"user": placement.UserID, "sponsor": placement.SponsorID, "parent": placement.ParentID,
		"path": placement.Path, "attempts": placement.Attempts,
	})
	return placement, nil
}

// ComputeCommissions previews the commissions of a sale without paying them.
// Rates apply to amount; pointValue travels with the sale but does not change payouts.
func (svc *Service) ComputeCommissions(ctx context.Context, buyerID string, amount, pointValue decimal.Decimal) ([]Record, error) {
	if pointValue.IsNegative() {
		return nil, errors.Wrap(ErrInvalidAmount, "point value")
	}
	return svc.calculator.Compute(ctx, core.CleanString(buyerID), amount)
}

// ProcessSale pays the commissions of sale once per sale id.
func (svc *Service) ProcessSale(ctx context.Context, sale Sale) (SaleResult, error) {
	if sale.Amount.IsNegative() || sale.PointValue.IsNegative() {
		return SaleResult{}, ErrInvalidAmount
	}
	sale.ID = core.CleanString(sale.ID)
	sale.BuyerID = core.CleanString(sale.BuyerID)
	return svc.calculator.Process(ctx, sale)
}

func (svc *Service) SaleCommissions(ctx context.Context, saleID string) ([]Record, error) {
	return svc.calculator.ledger.SaleRecords(ctx, core.CleanString(saleID))
}

func (svc *Service) EvaluateQualification(ctx context.Context, nodeID string, targetLevel int) (bool, error) {
	return svc.evaluator.Evaluate(ctx, core.CleanString(nodeID), targetLevel)
}

func (svc *Service) HighestLevel(ctx context.Context, nodeID string) (int, error) {
	level, _, err := svc.evaluator.HighestLevel(ctx, core.CleanString(nodeID))
	return level, err
}

func (svc *Service) GetNode(ctx context.Context, nodeID string) (Node, error) {
	return svc.store.GetNode(ctx, core.CleanString(nodeID))
}

func (svc *Service) GetDescendants(ctx context.Context, nodeID string, maxDepth int) ([]Descendant, error) {
	return svc.reporter.Descendants(ctx, core.CleanString(nodeID), maxDepth)
}

func (svc *Service) GetTree(ctx context.Context, nodeID string, depth int) (TreeNode, error) {
	return svc.reporter.Tree(ctx, core.CleanString(nodeID), depth)
}

func (svc *Service) GetSpilloverStats(ctx context.Context, nodeID string) (SpilloverStats, error) {
	return svc.reporter.SpilloverStats(ctx, core.CleanString(nodeID))
}

func (svc *Service) GetStats(ctx context.Context, nodeID string) (Stats, error) {
	return svc.reporter.Stats(ctx, core.CleanString(nodeID))
}

// SetTier changes the tier that prices the ISP a node earns as a sponsor.
func (svc *Service) SetTier(ctx context.Context, nodeID string, tier plan.Tier) (Node, error) {
	tier = normalizeTier(tier)
	if !svc.plan.HasTier(tier) {
		return Node{}, errors.Wrapf(plan.ErrUnknownTier, "%q", tier)
	}
	return svc.store.UpdateNode(ctx, core.CleanString(nodeID), NodeUpdate{Tier: &tier})
}

// SetActive (de)activates a node; the next qualification pass propagates it to the sponsor's recruit list.
func (svc *Service) SetActive(ctx context.Context, nodeID string, active bool) (Node, error) {
	return svc.store.UpdateNode(ctx, core.CleanString(nodeID), NodeUpdate{IsActive: &active})
}

func (svc *Service) RunQualificationPass(ctx context.Context) (PassResult, error) {
	return svc.jobs.QualificationPass(ctx)
}

func (svc *Service) RunMonthlyReset(ctx context.Context) error {
	return svc.jobs.MonthlyReset(ctx)
}

// tiers are matched upper case, so "gold" and " Gold " both mean GOLD
func normalizeTier(tier plan.Tier) plan.Tier {
	return plan.Tier(strings.ToUpper(core.CleanString(string(tier))))
}
