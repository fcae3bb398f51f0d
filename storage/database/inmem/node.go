package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/downline/core/matrix"
)

type nodeStore struct {
	db  *nodeTable
	now func() time.Time
}

var _ matrix.NodeStore = (*nodeStore)(nil) // interface compliance check

func NewNodeStore(db *DB) *nodeStore {
	return &nodeStore{db: db.node, now: func() time.Time { return db.now() }}
}

func (s *nodeStore) GetNode(_ context.Context, userID string) (matrix.Node, error) {
	s.db.RLock()
	defer s.db.RUnlock()

	if n, ok := s.db.table[userID]; ok {
		return n.Clone(), nil
	}
	return matrix.Node{}, matrix.ErrNodeNotFound
}

func (s *nodeStore) CreateNode(_ context.Context, node matrix.Node) (matrix.Node, error) {
	if strings.TrimSpace(node.UserID) == "" {
		return matrix.Node{}, matrix.ErrBlankUserID
	}

	s.db.Lock()
	defer s.db.Unlock()

	if _, ok := s.db.table[node.UserID]; ok {
		return matrix.Node{}, matrix.ErrDuplicateNode
	}
	if node.IsRoot() {
		if s.db.rootID != "" {
			return matrix.Node{}, matrix.ErrRootAlreadyExists
		}
		s.db.rootID = node.UserID
	}
	n := node.Clone()
	s.db.table[node.UserID] = &n
	return n.Clone(), nil
}

func (s *nodeStore) slot(parentID string, position int) (*matrix.Slot, error) {
	parent, ok := s.db.table[parentID]
	if !ok {
		return nil, matrix.ErrNodeNotFound
	}
	if position < 1 || position > len(parent.Slots) {
		return nil, errors.Wrapf(matrix.ErrInvalidSlot, "position %d", position)
	}
	return &parent.Slots[position-1], nil
}

func (s *nodeStore) TrySetSlot(_ context.Context, parentID string, position int, childID string) (bool, error) {
	if strings.TrimSpace(childID) == "" {
		return false, matrix.ErrBlankUserID
	}

	s.db.Lock()
	defer s.db.Unlock()

	slot, err := s.slot(parentID, position)
	if err != nil {
		return false, err
	}
	if slot.Filled() {
		return false, nil
	}
	slot.ChildID = childID
	slot.FilledAt = s.now().UTC()
	return true, nil
}

func (s *nodeStore) ReleaseSlot(_ context.Context, parentID string, position int, childID string) error {
	s.db.Lock()
	defer s.db.Unlock()

	slot, err := s.slot(parentID, position)
	if err != nil {
		return err
	}
	if slot.ChildID == childID {
		*slot = matrix.Slot{Position: position}
	}
	return nil
}

func (s *nodeStore) RootNode(ctx context.Context) (matrix.Node, error) {
	s.db.RLock()
	rootID := s.db.rootID
	s.db.RUnlock()

	if rootID == "" {
		return matrix.Node{}, matrix.ErrNodeNotFound
	}
	return s.GetNode(ctx, rootID)
}

// ListNodeIDs returns ids sorted, for stable job runs.
func (s *nodeStore) ListNodeIDs(_ context.Context) ([]string, error) {
	s.db.RLock()
	defer s.db.RUnlock()

	ids := make([]string, 0, len(s.db.table))
	for id := range s.db.table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *nodeStore) UpdateNode(_ context.Context, userID string, upd matrix.NodeUpdate) (matrix.Node, error) {
	s.db.Lock()
	defer s.db.Unlock()

	// only save set fields
	n, ok := s.db.table[userID]
	if !ok {
		return matrix.Node{}, matrix.ErrNodeNotFound
	}
	if upd.Tier != nil {
		n.Tier = *upd.Tier
	}
	if upd.IsActive != nil {
		n.IsActive = *upd.IsActive
	}
	if upd.TLILevel != nil {
		n.TLILevel = *upd.TLILevel
	}
	if upd.QualifiedLeaders != nil {
		n.QualifiedLeaders = *upd.QualifiedLeaders
	}
	return n.Clone(), nil
}

func (s *nodeStore) AddRecruit(_ context.Context, sponsorID string, recruit matrix.RecruitedLeader) error {
	s.db.Lock()
	defer s.db.Unlock()

	sponsor, ok := s.db.table[sponsorID]
	if !ok {
		return matrix.ErrNodeNotFound
	}
	for _, r := range sponsor.RecruitedLeaders {
		if r.UserID == recruit.UserID {
			return nil
		}
	}
	sponsor.RecruitedLeaders = append(sponsor.RecruitedLeaders, recruit)
	return nil
}

func (s *nodeStore) UpdateRecruit(_ context.Context, sponsorID, userID string, level int, active bool) error {
	s.db.Lock()
	defer s.db.Unlock()

	sponsor, ok := s.db.table[sponsorID]
	if !ok {
		return matrix.ErrNodeNotFound
	}
	for i := range sponsor.RecruitedLeaders {
		if r := &sponsor.RecruitedLeaders[i]; r.UserID == userID {
			r.CurrentLevel = level
			r.Active = active
			return nil
		}
	}
	return errors.Wrapf(matrix.ErrNodeNotFound, "recruit %s", userID)
}

func (s *nodeStore) ResetMonth(_ context.Context) error {
	s.db.Lock()
	defer s.db.Unlock()

	for _, n := range s.db.table {
		n.RollMonth()
	}
	return nil
}
