package matrix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/plan"
)

// errSlotTaken means a located slot was claimed by a concurrent placement before us.
var errSlotTaken = errors.New("located slot already taken")

// Engine places new participants into the matrix.
type Engine struct {
	store         NodeStore
	plan          plan.Plan
	locator       *Locator
	maxAttempts   int
	retryInterval time.Duration
	notifier      Notifier
	metrics       Metrics
	log           core.Logger
	now           func() time.Time
}

func NewEngine(store NodeStore, p plan.Plan, opts ...Option) *Engine {
	o := newOptions(opts)
	return &Engine{
		store:         store,
		plan:          p,
		locator:       NewLocator(store, p.Width, p.MaxDepth, WithMaxVisits(o.maxVisits)),
		maxAttempts:   o.maxAttempts,
		retryInterval: o.retryInterval,
		notifier:      o.notifier,
		metrics:       o.metrics,
		log:           o.logger,
		now:           o.now,
	}
}

// Place puts req.UserID into the matrix below req.SponsorID, or at the root when SponsorID is empty.
// A located slot lost to a concurrent placement is re-located from scratch, up to the configured attempts,
// after which ErrPlacementConflict is returned.
func (e *Engine) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Placement{}, ErrBlankUserID
	}
	if req.SponsorID == req.UserID {
		return Placement{}, errors.Wrapf(ErrSelfSponsor, "user %s", req.UserID)
	}
	if req.Tier == "" {
		req.Tier = e.plan.DefaultTier
	}
	if !e.plan.HasTier(req.Tier) {
		return Placement{}, errors.Wrapf(plan.ErrUnknownTier, "%q", req.Tier)
	}

	if _, err := e.store.GetNode(ctx, req.UserID); err == nil {
		return Placement{}, errors.Wrapf(ErrDuplicateNode, "user %s", req.UserID)
	} else if errors.Cause(err) != ErrNodeNotFound {
		return Placement{}, errors.Wrap(err, "checking existing node")
	}

	var (
		placement Placement
		err       error
	)
	if req.SponsorID == "" {
		placement, err = e.placeRoot(ctx, req)
	} else {
		placement, err = e.placeUnder(ctx, req)
	}
	if err != nil {
		e.metrics.PlacementFailed(Kind(err).String())
		return Placement{}, err
	}

	e.metrics.PlacementSucceeded(placement.Level, placement.Spillover())
	return placement, nil
}

func (e *Engine) placeRoot(ctx context.Context, req PlaceRequest) (Placement, error) {
	if _, err := e.store.RootNode(ctx); err == nil {
		return Placement{}, ErrRootAlreadyExists
	} else if errors.Cause(err) != ErrNodeNotFound {
		return Placement{}, errors.Wrap(err, "looking up root")
	}

	node := e.newNode(req, Target{Position: 1, Level: 1, Path: RootPath})
	if _, err := e.store.CreateNode(ctx, node); err != nil {
		return Placement{}, errors.Wrap(err, "creating root node")
	}
	return Placement{UserID: node.UserID, Level: 1, Position: 1, Path: RootPath, Attempts: 1}, nil
}

func (e *Engine) placeUnder(ctx context.Context, req PlaceRequest) (Placement, error) {
	sponsor, err := e.store.GetNode(ctx, req.SponsorID)
	if err != nil {
		if errors.Cause(err) == ErrNodeNotFound {
			return Placement{}, errors.Wrapf(ErrSponsorNotFound, "sponsor %s", req.SponsorID)
		}
		return Placement{}, errors.Wrap(err, "getting sponsor")
	}

	target, attempts, err := e.claim(ctx, sponsor.UserID, req.UserID)
	if err != nil {
		return Placement{}, err
	}

	node := e.newNode(req, target)
	if _, err := e.store.CreateNode(ctx, node); err != nil {
		// give the slot back: the node it was claimed for does not exist
		if rerr := e.store.ReleaseSlot(ctx, target.ParentID, target.Position, req.UserID); rerr != nil {
			e.log.Error("failed to release claimed slot", rerr, map[string]interface{}{
				"parent": target.ParentID, "position": target.Position, "child": req.UserID,
			})
		}
		return Placement{}, errors.Wrap(err, "creating node")
	}

	recruit := RecruitedLeader{
		UserID:        node.UserID,
		Username:      node.Username,
		PlacementPath: node.Path,
		Active:        true,
		RecruitedAt:   node.JoinedAt,
	}
	if err := e.store.AddRecruit(ctx, sponsor.UserID, recruit); err != nil {
		return Placement{}, errors.Wrap(err, "adding recruit to sponsor")
	}

	placement := Placement{
		UserID:    node.UserID,
		Level:     target.Level,
		Position:  target.Position,
		Path:      target.Path,
		ParentID:  target.ParentID,
		SponsorID: sponsor.UserID,
		Attempts:  attempts,
	}
	if placement.Spillover() {
		e.notifier.SpilloverPlaced(ctx, target.ParentID, node)
	}
	return placement, nil
}

// claim locates an open slot below sponsorID and atomically claims it for childID.
// Every retry re-locates; a stale target is never retried.
func (e *Engine) claim(ctx context.Context, sponsorID, childID string) (Target, int, error) {
	var (
		target   Target
		attempts int
	)
	op := func() error {
		attempts++
		t, err := e.locator.FindOpenSlot(ctx, sponsorID)
		if err != nil {
			return backoff.Permanent(err)
		}
		ok, err := e.store.TrySetSlot(ctx, t.ParentID, t.Position, childID)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "claiming slot"))
		}
		if !ok {
			e.metrics.PlacementConflict()
			e.log.Debug(fmt.Sprintf("slot %s taken, re-locating (attempt %d/%d)", t.Path, attempts, e.maxAttempts))
			return errSlotTaken
		}
		target = t
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	b.MaxElapsedTime = 0 // bounded by attempts only
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if err == errSlotTaken {
			return Target{}, attempts, errors.Wrapf(ErrPlacementConflict, "%d attempts", attempts)
		}
		return Target{}, attempts, err
	}
	return target, attempts, nil
}

func (e *Engine) newNode(req PlaceRequest, t Target) Node {
	return Node{
		UserID:    req.UserID,
		Username:  req.Username,
		Tier:      req.Tier,
		SponsorID: req.SponsorID,
		ParentID:  t.ParentID,
		Level:     t.Level,
		Position:  t.Position,
		Path:      t.Path,
		Slots:     EmptySlots(e.plan.Width),
		IsActive:  true,
		JoinedAt:  e.now().UTC(),
	}
}
