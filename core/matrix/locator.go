package matrix

import (
	"context"

	"github.com/pkg/errors"
)

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithMaxVisits stops the search after n nodes were inspected (0 = no limit).
func WithMaxVisits(n int) LocatorOption {
	return func(l *Locator) {
		if n >= 0 {
			l.maxVisits = n
		}
	}
}

// Locator finds the shallowest, left-most open slot below a sponsor (spillover).
type Locator struct {
	store     NodeStore
	width     int
	maxDepth  int
	maxVisits int
}

func NewLocator(store NodeStore, width, maxDepth int, opts ...LocatorOption) *Locator {
	l := &Locator{store: store, width: width, maxDepth: maxDepth}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// walker holds the mutable state of one breadth-first search.
type walker struct {
	*Locator
	ctx     context.Context
	queue   []string
	visited map[string]bool
	visits  int
}

// FindOpenSlot runs a breadth-first search from startID and returns the first empty slot,
// lowest position first, of the first node (in level order) that has one.
// Nodes at the maximum depth cannot host children.
// Returns ErrNodeNotFound if startID is absent and ErrMatrixFull if no slot is reachable within the bounds.
func (l *Locator) FindOpenSlot(ctx context.Context, startID string) (Target, error) {
	w := &walker{
		Locator: l,
		ctx:     ctx,
		queue:   []string{startID},
		visited: map[string]bool{},
	}
	return w.loop()
}

func (w *walker) loop() (Target, error) {
	for len(w.queue) > 0 {
		if err := w.ctx.Err(); err != nil {
			return Target{}, err
		}
		if w.maxVisits > 0 && w.visits >= w.maxVisits {
			break
		}

		id := w.dequeue()
		if w.visited[id] {
			continue
		}
		w.visited[id] = true
		w.visits++

		node, err := w.store.GetNode(w.ctx, id)
		if err != nil {
			if errors.Cause(err) == ErrNodeNotFound && w.visits > 1 {
				continue // dangling child reference; skip it
			}
			return Target{}, errors.Wrapf(err, "visiting %s", id)
		}
		if node.Level >= w.maxDepth {
			// level order: every node still queued is at least this deep
			break
		}

		if pos, ok := w.openPosition(node); ok {
			return Target{
				ParentID: node.UserID,
				Position: pos,
				Level:    node.Level + 1,
				Path:     ChildPath(node.Path, pos),
			}, nil
		}
		w.enqueueChildren(node)
	}
	return Target{}, ErrMatrixFull
}

func (w *walker) dequeue() string {
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id
}

// openPosition only considers the first `width` slots of the node.
func (w *walker) openPosition(node Node) (int, bool) {
	for i, s := range node.Slots {
		if i >= w.width {
			break
		}
		if !s.Filled() {
			return s.Position, true
		}
	}
	return 0, false
}

func (w *walker) enqueueChildren(node Node) {
	for _, s := range node.FilledSlots() {
		if !w.visited[s.ChildID] {
			w.queue = append(w.queue, s.ChildID)
		}
	}
}
