package matrix

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/downline/core"
)

const (
	LeaseQualification = "tli-qualification"
	LeaseMonthlyReset  = "monthly-reset"
)

// PassResult summarises a qualification pass.
type PassResult struct {
	Nodes    int           `json:"nodes"`
	Changed  int           `json:"changed"`
	Duration time.Duration `json:"duration"`
}

// Jobs runs matrix-wide maintenance. Each job holds a named lease while it runs,
// so at most one instance of a job runs across every process sharing the Lease.
type Jobs struct {
	store       NodeStore
	lease       Lease
	evaluator   *Evaluator
	ttl         time.Duration
	concurrency int
	log         core.Logger
	now         func() time.Time
}

func NewJobs(store NodeStore, lease Lease, evaluator *Evaluator, opts ...Option) *Jobs {
	o := newOptions(opts)
	return &Jobs{
		store:       store,
		lease:       lease,
		evaluator:   evaluator,
		ttl:         o.leaseTTL,
		concurrency: o.jobConcurrency,
		log:         o.logger,
		now:         o.now,
	}
}

func (j *Jobs) withLease(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	ok, err := j.lease.Acquire(ctx, name, owner, j.ttl)
	if err != nil {
		return errors.Wrapf(err, "acquiring lease %s", name)
	}
	if !ok {
		return errors.Wrap(ErrJobRunning, name)
	}
	defer func() {
		// the job's ctx may be done by now
		if err := j.lease.Release(context.Background(), name, owner); err != nil {
			j.log.Error("failed to release lease", err, map[string]interface{}{"lease": name})
		}
	}()
	return fn(ctx)
}

// QualificationPass recomputes every node's TLI level and refreshes it in its sponsor's recruit list.
// Levels are processed deepest first: a sponsor always sits above its recruits,
// so by the time a node is evaluated its recruits' levels are final.
func (j *Jobs) QualificationPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	start := j.now()
	err := j.withLease(ctx, LeaseQualification, func(ctx context.Context) error {
		byLevel, err := j.nodesByLevel(ctx)
		if err != nil {
			return err
		}

		levels := make([]int, 0, len(byLevel))
		for lvl := range byLevel {
			levels = append(levels, lvl)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(levels)))

		var changed int64
		for _, lvl := range levels {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(j.concurrency)
			for _, id := range byLevel[lvl] {
				id := id
				g.Go(func() error {
					c, err := j.qualify(gctx, id)
					if c {
						atomic.AddInt64(&changed, 1)
					}
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return errors.Wrapf(err, "level %d", lvl)
			}
			res.Nodes += len(byLevel[lvl])
		}
		res.Changed = int(changed)
		return nil
	})
	if err != nil {
		return PassResult{}, err
	}

	res.Duration = j.now().Sub(start)
	j.log.Info("qualification pass done", map[string]interface{}{
		"nodes": res.Nodes, "changed": res.Changed, "duration": res.Duration.String(),
	})
	return res, nil
}

func (j *Jobs) nodesByLevel(ctx context.Context) (map[int][]string, error) {
	ids, err := j.store.ListNodeIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing nodes")
	}
	byLevel := make(map[int][]string)
	for _, id := range ids {
		node, err := j.store.GetNode(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "getting %s", id)
		}
		byLevel[node.Level] = append(byLevel[node.Level], id)
	}
	return byLevel, nil
}

// qualify stores nodeID's highest level and reports whether it changed.
func (j *Jobs) qualify(ctx context.Context, nodeID string) (bool, error) {
	node, err := j.store.GetNode(ctx, nodeID)
	if err != nil {
		return false, errors.Wrapf(err, "getting %s", nodeID)
	}
	level, leaders := j.evaluator.highest(node)

	changed := level != node.TLILevel || leaders != node.QualifiedLeaders
	if changed {
		if _, err := j.store.UpdateNode(ctx, nodeID, NodeUpdate{TLILevel: &level, QualifiedLeaders: &leaders}); err != nil {
			return false, errors.Wrapf(err, "updating %s", nodeID)
		}
		if level != node.TLILevel {
			j.log.Info("TLI level changed", map[string]interface{}{
				"user": nodeID, "from": node.TLILevel, "to": level,
			})
		}
	}

	if node.SponsorID != "" {
		err := j.store.UpdateRecruit(ctx, node.SponsorID, nodeID, level, node.IsActive)
		if err != nil && errors.Cause(err) != ErrNodeNotFound {
			return changed, errors.Wrapf(err, "refreshing %s in sponsor %s", nodeID, node.SponsorID)
		}
	}
	return changed, nil
}

// MonthlyReset moves every node's month-to-date earnings into last month.
func (j *Jobs) MonthlyReset(ctx context.Context) error {
	return j.withLease(ctx, LeaseMonthlyReset, func(ctx context.Context) error {
		if err := j.store.ResetMonth(ctx); err != nil {
			return errors.Wrap(err, "resetting month")
		}
		j.log.Info("monthly earnings reset")
		return nil
	})
}
