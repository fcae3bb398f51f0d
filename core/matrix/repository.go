package matrix

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// NodeStore persists matrix nodes keyed by user id.
	// Ancestry walks go parent pointer by parent pointer; only jobs may list every node.
	NodeStore interface {
		// GetNode returns ErrNodeNotFound if userID was never placed.
		GetNode(ctx context.Context, userID string) (Node, error)
		// CreateNode returns ErrDuplicateNode if node.UserID exists,
		// or ErrRootAlreadyExists when creating a second root.
		CreateNode(ctx context.Context, node Node) (Node, error)
		// TrySetSlot atomically fills slot position of parentID with childID if, and only if, it is empty.
		// It returns false, without error, when the slot was already filled.
		TrySetSlot(ctx context.Context, parentID string, position int, childID string) (bool, error)
		// ReleaseSlot empties a slot still held by childID. It undoes a claim whose node could not be created.
		ReleaseSlot(ctx context.Context, parentID string, position int, childID string) error
		// RootNode returns ErrNodeNotFound while the matrix is empty.
		RootNode(ctx context.Context) (Node, error)
		ListNodeIDs(ctx context.Context) ([]string, error)
		UpdateNode(ctx context.Context, userID string, upd NodeUpdate) (Node, error)
		AddRecruit(ctx context.Context, sponsorID string, recruit RecruitedLeader) error
		UpdateRecruit(ctx context.Context, sponsorID, userID string, level int, active bool) error
		// ResetMonth rolls every node's month-to-date earnings into last month.
		ResetMonth(ctx context.Context) error
	}

	// Ledger persists commission records keyed by sale id and credits recipients' totals exactly once per sale.
	Ledger interface {
		// RecordSale returns false, changing nothing, if the sale was already recorded.
		RecordSale(ctx context.Context, sale Sale, records []Record) (bool, error)
		// GetSale returns the sale as first recorded, or ErrSaleNotFound.
		GetSale(ctx context.Context, saleID string) (Sale, error)
		SaleRecords(ctx context.Context, saleID string) ([]Record, error)
		// SalesVolume sums the amounts of every sale bought by one of buyerIDs.
		SalesVolume(ctx context.Context, buyerIDs []string) (decimal.Decimal, error)
	}

	// Lease is a named, expiring lock shared by every service instance.
	Lease interface {
		Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
		Release(ctx context.Context, name, owner string) error
	}
)
