package matrix

import (
	"github.com/pkg/errors"

	"github.com/trezcool/downline/core/plan"
)

var (
	// structural
	ErrNodeNotFound    = errors.New("node not found in matrix")
	ErrSponsorNotFound = errors.New("sponsor not found in matrix")
	ErrBuyerNotFound   = errors.New("buyer not found in matrix")
	ErrSaleNotFound    = errors.New("sale not found")
	ErrDuplicateNode   = errors.New("user already exists in matrix")

	// capacity
	ErrMatrixFull = errors.New("no available matrix position found")

	// concurrency
	ErrPlacementConflict = errors.New("matrix placement conflict: retry budget exhausted")
	ErrJobRunning        = errors.New("job is already running")

	// configuration / caller misuse
	ErrRootAlreadyExists = errors.New("matrix root already exists")
	ErrUnknownLevel      = errors.New("unknown qualification level")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrInvalidSlot       = errors.New("slot position out of range")
	ErrBlankUserID       = errors.New("user id must not be blank")
	ErrSelfSponsor       = errors.New("user cannot sponsor themselves")
)

// ErrorKind groups errors by how callers should react to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindStructural
	KindCapacity
	KindConcurrency
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindCapacity:
		return "capacity"
	case KindConcurrency:
		return "concurrency"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Kind classifies err. Only concurrency errors are worth retrying.
func Kind(err error) ErrorKind {
	switch errors.Cause(err) {
	case ErrNodeNotFound, ErrSponsorNotFound, ErrBuyerNotFound, ErrSaleNotFound, ErrDuplicateNode:
		return KindStructural
	case ErrMatrixFull:
		return KindCapacity
	case ErrPlacementConflict, ErrJobRunning:
		return KindConcurrency
	case ErrRootAlreadyExists, ErrUnknownLevel, ErrInvalidAmount, ErrInvalidSlot, ErrBlankUserID, ErrSelfSponsor,
		plan.ErrUnknownTier, plan.ErrInvalidPlan:
		return KindConfiguration
	default:
		return KindUnknown
	}
}
