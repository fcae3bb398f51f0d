package matrix

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/downline/core/plan"
)

// Evaluator decides TLI qualification from a node's personally recruited leaders.
type Evaluator struct {
	store NodeStore
	plan  plan.Plan
}

func NewEvaluator(store NodeStore, p plan.Plan) *Evaluator {
	return &Evaluator{store: store, plan: p}
}

// Evaluate reports whether nodeID qualifies for targetLevel:
// at least Leaders of its active recruits must have reached AtLevel.
func (ev *Evaluator) Evaluate(ctx context.Context, nodeID string, targetLevel int) (bool, error) {
	req, ok := ev.plan.Requirement(targetLevel)
	if !ok {
		return false, errors.Wrapf(ErrUnknownLevel, "level %d", targetLevel)
	}
	node, err := ev.store.GetNode(ctx, nodeID)
	if err != nil {
		return false, errors.Wrap(err, "getting node")
	}
	return Qualifies(node.RecruitedLeaders, req), nil
}

// HighestLevel returns the highest level nodeID qualifies for, testing levels from 1 upward
// and stopping at the first one it fails, together with the leaders counted for that level.
// A node that fails level 1 is at level 0.
func (ev *Evaluator) HighestLevel(ctx context.Context, nodeID string) (level, leaders int, err error) {
	node, err := ev.store.GetNode(ctx, nodeID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "getting node")
	}
	level, leaders = ev.highest(node)
	return level, leaders, nil
}

func (ev *Evaluator) highest(node Node) (level, leaders int) {
	for _, lvl := range ev.plan.Levels() {
		req, _ := ev.plan.Requirement(lvl)
		if !Qualifies(node.RecruitedLeaders, req) {
			break
		}
		level, leaders = lvl, CountQualified(node.RecruitedLeaders, req.AtLevel)
	}
	return level, leaders
}

// CountQualified counts the active recruits at atLevel or above.
func CountQualified(recruits []RecruitedLeader, atLevel int) int {
	n := 0
	for _, r := range recruits {
		if r.Active && r.CurrentLevel >= atLevel {
			n++
		}
	}
	return n
}

func Qualifies(recruits []RecruitedLeader, req plan.Requirement) bool {
	return CountQualified(recruits, req.AtLevel) >= req.Leaders
}
