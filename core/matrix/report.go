package matrix

import (
	"context"

	"github.com/pkg/errors"
)

// Reporter serves read-only views of the matrix. Nothing in placement or commissions depends on it.
type Reporter struct {
	store    NodeStore
	ledger   Ledger
	width    int
	maxDepth int
}

func NewReporter(store NodeStore, ledger Ledger, width, maxDepth int) *Reporter {
	return &Reporter{store: store, ledger: ledger, width: width, maxDepth: maxDepth}
}

type queued struct {
	id    string
	depth int
}

// Descendants lists the nodes below nodeID in level order, down to maxDepth levels below it.
// maxDepth < 1 means the whole subtree.
func (r *Reporter) Descendants(ctx context.Context, nodeID string, maxDepth int) ([]Descendant, error) {
	root, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, errors.Wrap(err, "getting node")
	}
	if maxDepth < 1 || maxDepth > r.maxDepth {
		maxDepth = r.maxDepth
	}

	var out []Descendant
	queue := r.childrenOf(root, 1)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := queue[0]
		queue = queue[1:]

		node, err := r.store.GetNode(ctx, q.id)
		if err != nil {
			if errors.Cause(err) == ErrNodeNotFound {
				continue
			}
			return nil, errors.Wrapf(err, "getting %s", q.id)
		}
		out = append(out, Descendant{
			UserID:      node.UserID,
			Username:    node.Username,
			Level:       q.depth,
			MatrixLevel: node.Level,
			Position:    node.Position,
			Path:        node.Path,
			IsActive:    node.IsActive,
		})
		if q.depth < maxDepth {
			queue = append(queue, r.childrenOf(node, q.depth+1)...)
		}
	}
	return out, nil
}

func (r *Reporter) childrenOf(node Node, depth int) []queued {
	filled := node.FilledSlots()
	children := make([]queued, 0, len(filled))
	for _, s := range filled {
		children = append(children, queued{id: s.ChildID, depth: depth})
	}
	return children
}

// Tree returns nodeID and depth levels below it. Empty slots appear as placeholders.
func (r *Reporter) Tree(ctx context.Context, nodeID string, depth int) (TreeNode, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return TreeNode{}, errors.Wrap(err, "getting node")
	}

	root := treeNode(node)
	type item struct {
		t     *TreeNode
		slots []Slot
		left  int
	}
	work := []item{{t: &root, slots: node.Slots, left: depth}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return TreeNode{}, err
		}
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.left <= 0 || it.t.Level >= r.maxDepth {
			continue
		}

		// children is sized once so the pointers pushed below stay valid
		it.t.Children = make([]TreeNode, len(it.slots))
		for i, s := range it.slots {
			it.t.Children[i] = TreeNode{Position: s.Position, Placeholder: true}
			if !s.Filled() {
				continue
			}
			child, err := r.store.GetNode(ctx, s.ChildID)
			if err != nil {
				if errors.Cause(err) == ErrNodeNotFound {
					continue
				}
				return TreeNode{}, errors.Wrapf(err, "getting %s", s.ChildID)
			}
			it.t.Children[i] = treeNode(child)
			it.t.Children[i].FilledAt = s.FilledAt
			work = append(work, item{t: &it.t.Children[i], slots: child.Slots, left: it.left - 1})
		}
	}
	return root, nil
}

func treeNode(n Node) TreeNode {
	return TreeNode{
		UserID:   n.UserID,
		Username: n.Username,
		Tier:     n.Tier,
		Level:    n.Level,
		Position: n.Position,
		Path:     n.Path,
		Filled:   true,
	}
}

// SpilloverStats compares who nodeID recruited with where they were placed, and who was placed under nodeID.
func (r *Reporter) SpilloverStats(ctx context.Context, nodeID string) (SpilloverStats, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return SpilloverStats{}, errors.Wrap(err, "getting node")
	}

	stats := SpilloverStats{TotalRecruited: len(node.RecruitedLeaders)}
	for _, s := range node.FilledSlots() {
		stats.DirectLine++
		child, err := r.store.GetNode(ctx, s.ChildID)
		if err != nil {
			if errors.Cause(err) == ErrNodeNotFound {
				continue
			}
			return SpilloverStats{}, errors.Wrapf(err, "getting %s", s.ChildID)
		}
		if child.SponsorID != node.UserID {
			stats.SpilloverReceived++
		}
	}
	for _, rl := range node.RecruitedLeaders {
		if ParentPath(rl.PlacementPath) != node.Path {
			stats.SpilloverGiven++
		}
	}
	stats.FillPercentage = percent(stats.DirectLine, r.width)
	return stats, nil
}

// Stats summarises the whole subtree below nodeID. TotalVolume counts the downline's purchases, not nodeID's own.
func (r *Reporter) Stats(ctx context.Context, nodeID string) (Stats, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "getting node")
	}
	desc, err := r.Descendants(ctx, nodeID, 0)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalDownline: len(desc)}
	buyers := make([]string, 0, len(desc))
	for _, d := range desc {
		buyers = append(buyers, d.UserID)
		if d.IsActive {
			stats.ActiveDownline++
		}
		if d.Level > stats.DeepestLevel {
			stats.DeepestLevel = d.Level
		}
	}
	stats.FillPercentage = percent(len(node.FilledSlots()), r.width)

	if stats.TotalVolume, err = r.ledger.SalesVolume(ctx, buyers); err != nil {
		return Stats{}, errors.Wrap(err, "summing downline sales")
	}
	return stats, nil
}

func percent(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}
