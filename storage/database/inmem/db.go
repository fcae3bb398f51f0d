package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/downline/core/matrix"
)

type (
	DB struct {
		node  *nodeTable
		sale  *saleTable
		lease *leaseTable
		now   func() time.Time
	}

	nodeTable struct {
		sync.RWMutex
		table  map[string]*matrix.Node
		rootID string
	}

	saleTable struct {
		sync.RWMutex
		table map[string]*saleRow
	}

	saleRow struct {
		sale    matrix.Sale
		records []matrix.Record
	}

	leaseTable struct {
		sync.Mutex
		table map[string]leaseRow
	}

	leaseRow struct {
		owner     string
		expiresAt time.Time
	}
)

func Open() *DB {
	return &DB{
		node:  &nodeTable{table: make(map[string]*matrix.Node)},
		sale:  &saleTable{table: make(map[string]*saleRow)},
		lease: &leaseTable{table: make(map[string]leaseRow)},
		now:   time.Now,
	}
}

// SetClock replaces time.Now for lease expiry.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}
