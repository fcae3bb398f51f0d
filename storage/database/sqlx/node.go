package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
)

const nodeColumns = `user_id, username, tier, sponsor_id, parent_id, level, position, path, root_guard,
	tli_level, qualified_leaders, is_active, isp_total, isp_this_month, isp_last_month,
	tsc_total, tsc_this_month, tsc_last_month, joined_at`

type (
	nodeRow struct {
		UserID           string          `db:"user_id"`
		Username         string          `db:"username"`
		Tier             string          `db:"tier"`
		SponsorID        null.String     `db:"sponsor_id"`
		ParentID         null.String     `db:"parent_id"`
		Level            int             `db:"level"`
		Position         int             `db:"position"`
		Path             string          `db:"path"`
		RootGuard        null.Int        `db:"root_guard"`
		TLILevel         int             `db:"tli_level"`
		QualifiedLeaders int             `db:"qualified_leaders"`
		IsActive         bool            `db:"is_active"`
		ISPTotal         decimal.Decimal `db:"isp_total"`
		ISPThisMonth     decimal.Decimal `db:"isp_this_month"`
		ISPLastMonth     decimal.Decimal `db:"isp_last_month"`
		TSCTotal         decimal.Decimal `db:"tsc_total"`
		TSCThisMonth     decimal.Decimal `db:"tsc_this_month"`
		TSCLastMonth     decimal.Decimal `db:"tsc_last_month"`
		JoinedAt         time.Time       `db:"joined_at"`
	}

	slotRow struct {
		Position int         `db:"position"`
		ChildID  null.String `db:"child_id"`
		FilledAt null.Time   `db:"filled_at"`
	}

	recruitRow struct {
		UserID        string    `db:"user_id"`
		Username      string    `db:"username"`
		PlacementPath string    `db:"placement_path"`
		CurrentLevel  int       `db:"current_level"`
		Active        bool      `db:"active"`
		RecruitedAt   time.Time `db:"recruited_at"`
	}

	generationRow struct {
		Generation int             `db:"generation"`
		Amount     decimal.Decimal `db:"amount"`
	}
)

func (row nodeRow) unmarshal() matrix.Node {
	return matrix.Node{
		UserID:    row.UserID,
		Username:  row.Username,
		Tier:      plan.Tier(row.Tier),
		SponsorID: row.SponsorID.String,
		ParentID:  row.ParentID.String,
		Level:     row.Level,
		Position:  row.Position,
		Path:      row.Path,
		Commissions: matrix.CommissionTotals{
			ISP: matrix.Earnings{TotalEarned: row.ISPTotal, ThisMonth: row.ISPThisMonth, LastMonth: row.ISPLastMonth},
			TSC: matrix.Earnings{TotalEarned: row.TSCTotal, ThisMonth: row.TSCThisMonth, LastMonth: row.TSCLastMonth},
		},
		TLILevel:         row.TLILevel,
		QualifiedLeaders: row.QualifiedLeaders,
		IsActive:         row.IsActive,
		JoinedAt:         row.JoinedAt.UTC(),
	}
}

type nodeStore struct {
	db  core.DB
	now func() time.Time
}

var _ matrix.NodeStore = (*nodeStore)(nil) // interface compliance check

func NewNodeStore(db core.DB) *nodeStore {
	return &nodeStore{db: db, now: time.Now}
}

func (repo nodeStore) GetNode(ctx context.Context, userID string) (matrix.Node, error) {
	var row nodeRow
	q := repo.db.Rebind(`SELECT ` + nodeColumns + ` FROM matrix_node WHERE user_id = ?`)
	if err := repo.db.GetContext(ctx, &row, q, userID); err != nil {
		if err == sql.ErrNoRows {
			return matrix.Node{}, matrix.ErrNodeNotFound
		}
		return matrix.Node{}, errors.Wrap(err, "selecting node")
	}
	node := row.unmarshal()

	var slots []slotRow
	q = repo.db.Rebind(`SELECT position, child_id, filled_at FROM matrix_slot WHERE parent_id = ? ORDER BY position`)
	if err := repo.db.SelectContext(ctx, &slots, q, userID); err != nil {
		return matrix.Node{}, errors.Wrap(err, "selecting slots")
	}
	node.Slots = make([]matrix.Slot, 0, len(slots))
	for _, s := range slots {
		slot := matrix.Slot{Position: s.Position, ChildID: s.ChildID.String}
		if s.FilledAt.Valid {
			slot.FilledAt = s.FilledAt.Time.UTC()
		}
		node.Slots = append(node.Slots, slot)
	}

	var recruits []recruitRow
	q = repo.db.Rebind(`SELECT user_id, username, placement_path, current_level, active, recruited_at
		FROM recruited_leader WHERE sponsor_id = ? ORDER BY recruited_at, user_id`)
	if err := repo.db.SelectContext(ctx, &recruits, q, userID); err != nil {
		return matrix.Node{}, errors.Wrap(err, "selecting recruits")
	}
	for _, r := range recruits {
		node.RecruitedLeaders = append(node.RecruitedLeaders, matrix.RecruitedLeader{
			UserID:        r.UserID,
			Username:      r.Username,
			PlacementPath: r.PlacementPath,
			CurrentLevel:  r.CurrentLevel,
			Active:        r.Active,
			RecruitedAt:   r.RecruitedAt.UTC(),
		})
	}

	var gens []generationRow
	q = repo.db.Rebind(`SELECT generation, amount FROM tsc_generation WHERE user_id = ? ORDER BY generation`)
	if err := repo.db.SelectContext(ctx, &gens, q, userID); err != nil {
		return matrix.Node{}, errors.Wrap(err, "selecting TSC generations")
	}
	if len(gens) > 0 {
		node.Commissions.TSCByGeneration = make(map[int]decimal.Decimal, len(gens))
		for _, g := range gens {
			node.Commissions.TSCByGeneration[g.Generation] = g.Amount
		}
	}
	return node, nil
}

func (repo nodeStore) exists(ctx context.Context, exec core.DBExecutor, userID string) (bool, error) {
	var n int
	q := exec.Rebind(`SELECT COUNT(*) FROM matrix_node WHERE user_id = ?`)
	if err := exec.GetContext(ctx, &n, q, userID); err != nil {
		return false, errors.Wrap(err, "counting node")
	}
	return n > 0, nil
}

func (repo nodeStore) CreateNode(ctx context.Context, node matrix.Node) (matrix.Node, error) {
	if strings.TrimSpace(node.UserID) == "" {
		return matrix.Node{}, matrix.ErrBlankUserID
	}

	var rootGuard null.Int
	if node.IsRoot() {
		rootGuard = null.IntFrom(1)
	}

	err := core.InTx(ctx, repo.db, func(tx core.DBTransactor) error {
		q := tx.Rebind(`INSERT INTO matrix_node (user_id, username, tier, sponsor_id, parent_id, level, position, path,
			root_guard, tli_level, qualified_leaders, is_active, joined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, q,
			node.UserID, node.Username, string(node.Tier),
			null.NewString(node.SponsorID, node.SponsorID != ""), null.NewString(node.ParentID, node.ParentID != ""),
			node.Level, node.Position, node.Path, rootGuard,
			node.TLILevel, node.QualifiedLeaders, node.IsActive, node.JoinedAt.UTC(),
		)
		if err != nil {
			return err
		}

		q = tx.Rebind(`INSERT INTO matrix_slot (parent_id, position) VALUES (?, ?)`)
		for _, s := range node.Slots {
			if _, err := tx.ExecContext(ctx, q, node.UserID, s.Position); err != nil {
				return errors.Wrap(err, "inserting slot")
			}
		}
		return nil
	})
	if err != nil {
		if !isUniqueViolation(err) {
			return matrix.Node{}, errors.Wrap(err, "inserting node")
		}
		found, xerr := repo.exists(ctx, repo.db, node.UserID)
		switch {
		case xerr != nil:
			return matrix.Node{}, xerr
		case found:
			return matrix.Node{}, matrix.ErrDuplicateNode
		case node.IsRoot():
			return matrix.Node{}, matrix.ErrRootAlreadyExists
		}
		return matrix.Node{}, errors.Wrap(err, "inserting node")
	}
	return repo.GetNode(ctx, node.UserID)
}

func (repo nodeStore) TrySetSlot(ctx context.Context, parentID string, position int, childID string) (bool, error) {
	if strings.TrimSpace(childID) == "" {
		return false, matrix.ErrBlankUserID
	}
	q := repo.db.Rebind(`UPDATE matrix_slot SET child_id = ?, filled_at = ?
		WHERE parent_id = ? AND position = ? AND child_id IS NULL`)
	res, err := repo.db.ExecContext(ctx, q, childID, repo.now().UTC(), parentID, position)
	if err != nil {
		if isUniqueViolation(err) {
			return false, errors.Wrapf(matrix.ErrDuplicateNode, "%s already holds a slot", childID)
		}
		return false, errors.Wrap(err, "claiming slot")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// nothing updated: the slot is taken, or it does not exist
	var count int
	q = repo.db.Rebind(`SELECT COUNT(*) FROM matrix_slot WHERE parent_id = ? AND position = ?`)
	if err := repo.db.GetContext(ctx, &count, q, parentID, position); err != nil {
		return false, errors.Wrap(err, "checking slot")
	}
	if count > 0 {
		return false, nil
	}
	found, err := repo.exists(ctx, repo.db, parentID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, matrix.ErrNodeNotFound
	}
	return false, errors.Wrapf(matrix.ErrInvalidSlot, "position %d", position)
}

func (repo nodeStore) ReleaseSlot(ctx context.Context, parentID string, position int, childID string) error {
	q := repo.db.Rebind(`UPDATE matrix_slot SET child_id = NULL, filled_at = NULL
		WHERE parent_id = ? AND position = ? AND child_id = ?`)
	if _, err := repo.db.ExecContext(ctx, q, parentID, position, childID); err != nil {
		return errors.Wrap(err, "releasing slot")
	}
	return nil
}

func (repo nodeStore) RootNode(ctx context.Context) (matrix.Node, error) {
	var rootID string
	if err := repo.db.GetContext(ctx, &rootID, `SELECT user_id FROM matrix_node WHERE root_guard = 1`); err != nil {
		if err == sql.ErrNoRows {
			return matrix.Node{}, matrix.ErrNodeNotFound
		}
		return matrix.Node{}, errors.Wrap(err, "selecting root")
	}
	return repo.GetNode(ctx, rootID)
}

func (repo nodeStore) ListNodeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := repo.db.SelectContext(ctx, &ids, `SELECT user_id FROM matrix_node ORDER BY user_id`); err != nil {
		return nil, errors.Wrap(err, "listing nodes")
	}
	return ids, nil
}

func (repo nodeStore) UpdateNode(ctx context.Context, userID string, upd matrix.NodeUpdate) (matrix.Node, error) {
	// only save set fields
	var (
		sets []string
		args []interface{}
	)
	if upd.Tier != nil {
		sets, args = append(sets, "tier = ?"), append(args, string(*upd.Tier))
	}
	if upd.IsActive != nil {
		sets, args = append(sets, "is_active = ?"), append(args, *upd.IsActive)
	}
	if upd.TLILevel != nil {
		sets, args = append(sets, "tli_level = ?"), append(args, *upd.TLILevel)
	}
	if upd.QualifiedLeaders != nil {
		sets, args = append(sets, "qualified_leaders = ?"), append(args, *upd.QualifiedLeaders)
	}
	if len(sets) == 0 {
		return repo.GetNode(ctx, userID)
	}

	q := repo.db.Rebind(`UPDATE matrix_node SET ` + strings.Join(sets, ", ") + ` WHERE user_id = ?`)
	res, err := repo.db.ExecContext(ctx, q, append(args, userID)...)
	if err != nil {
		return matrix.Node{}, errors.Wrap(err, "updating node")
	}
	if n, err := rowsAffected(res); err != nil {
		return matrix.Node{}, err
	} else if n == 0 {
		return matrix.Node{}, matrix.ErrNodeNotFound
	}
	return repo.GetNode(ctx, userID)
}

func (repo nodeStore) AddRecruit(ctx context.Context, sponsorID string, recruit matrix.RecruitedLeader) error {
	found, err := repo.exists(ctx, repo.db, sponsorID)
	if err != nil {
		return err
	}
	if !found {
		return matrix.ErrNodeNotFound
	}

	q := repo.db.Rebind(`INSERT INTO recruited_leader
		(sponsor_id, user_id, username, placement_path, current_level, active, recruited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = repo.db.ExecContext(ctx, q,
		sponsorID, recruit.UserID, recruit.Username, recruit.PlacementPath,
		recruit.CurrentLevel, recruit.Active, recruit.RecruitedAt.UTC(),
	)
	if err != nil && !isUniqueViolation(err) {
		return errors.Wrap(err, "inserting recruit")
	}
	return nil
}

func (repo nodeStore) UpdateRecruit(ctx context.Context, sponsorID, userID string, level int, active bool) error {
	q := repo.db.Rebind(`UPDATE recruited_leader SET current_level = ?, active = ? WHERE sponsor_id = ? AND user_id = ?`)
	res, err := repo.db.ExecContext(ctx, q, level, active, sponsorID, userID)
	if err != nil {
		return errors.Wrap(err, "updating recruit")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return errors.Wrapf(matrix.ErrNodeNotFound, "recruit %s of %s", userID, sponsorID)
	}
	return nil
}

func (repo nodeStore) ResetMonth(ctx context.Context) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE matrix_node SET
		isp_last_month = isp_this_month, isp_this_month = 0,
		tsc_last_month = tsc_this_month, tsc_this_month = 0`)
	return errors.Wrap(err, "resetting month")
}
