package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/downline/core/matrix"
)

type lease struct {
	db  *leaseTable
	now func() time.Time
}

var _ matrix.Lease = (*lease)(nil) // interface compliance check

// NewLease returns a process-local Lease; it only guards jobs within this process.
func NewLease(db *DB) *lease {
	return &lease{db: db.lease, now: func() time.Time { return db.now() }}
}

func (l *lease) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.db.Lock()
	defer l.db.Unlock()

	now := l.now()
	if row, ok := l.db.table[name]; ok && row.owner != owner && now.Before(row.expiresAt) {
		return false, nil
	}
	l.db.table[name] = leaseRow{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *lease) Release(_ context.Context, name, owner string) error {
	l.db.Lock()
	defer l.db.Unlock()

	if row, ok := l.db.table[name]; ok && row.owner == owner {
		delete(l.db.table, name)
	}
	return nil
}
