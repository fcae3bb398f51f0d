package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

type lease struct {
	db  core.DB
	now func() time.Time
}

var _ matrix.Lease = (*lease)(nil) // interface compliance check

// NewLease returns a Lease backed by the job_lease table, shared by every instance using the database.
func NewLease(db core.DB) *lease {
	return &lease{db: db, now: time.Now}
}

// Acquire takes over an expired or self-owned lease, or creates it.
func (repo lease) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := repo.now().UTC()
	expiresAt := now.Add(ttl)

	q := repo.db.Rebind(`UPDATE job_lease SET owner = ?, expires_at = ? WHERE name = ? AND (owner = ? OR expires_at <= ?)`)
	res, err := repo.db.ExecContext(ctx, q, owner, expiresAt, name, owner, now)
	if err != nil {
		return false, errors.Wrap(err, "taking over lease")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	q = repo.db.Rebind(`INSERT INTO job_lease (name, owner, expires_at) VALUES (?, ?, ?)`)
	if _, err := repo.db.ExecContext(ctx, q, name, owner, expiresAt); err != nil {
		if isUniqueViolation(err) {
			return false, nil // held by someone else
		}
		return false, errors.Wrap(err, "inserting lease")
	}
	return true, nil
}

func (repo lease) Release(ctx context.Context, name, owner string) error {
	q := repo.db.Rebind(`DELETE FROM job_lease WHERE name = ? AND owner = ?`)
	_, err := repo.db.ExecContext(ctx, q, name, owner)
	return errors.Wrap(err, "releasing lease")
}
