package matrix

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core/plan"
)

// RootPath is the matrix path of the root node.
const RootPath = "1"

// Slot is one of the W child positions of a node.
type Slot struct {
	Position int       `json:"position"`
	ChildID  string    `json:"child_id,omitempty"`
	FilledAt time.Time `json:"filled_at,omitempty"` // UTC
}

func (s Slot) Filled() bool { return s.ChildID != "" }

// RecruitedLeader is an entry in a sponsor's personally-recruited list.
// The recruit may sit anywhere below the sponsor because of spillover.
type RecruitedLeader struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	PlacementPath string    `json:"placement_path"`
	CurrentLevel  int       `json:"current_level"` // TLI level
	Active        bool      `json:"active"`
	RecruitedAt   time.Time `json:"recruited_at"` // UTC
}

type Earnings struct {
	TotalEarned decimal.Decimal `json:"total_earned"`
	ThisMonth   decimal.Decimal `json:"this_month"`
	LastMonth   decimal.Decimal `json:"last_month"`
}

type CommissionTotals struct {
	ISP             Earnings                `json:"isp"`
	TSC             Earnings                `json:"tsc"`
	TSCByGeneration map[int]decimal.Decimal `json:"tsc_by_generation"`
}

// Node is a participant's position in the matrix.
type Node struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Tier      plan.Tier `json:"tier"`
	SponsorID string    `json:"sponsor_id,omitempty"` // who recruited them; empty for root
	ParentID  string    `json:"parent_id,omitempty"`  // whose slot they occupy; empty for root
	Level     int       `json:"level"`                // root = 1
	Position  int       `json:"position"`             // 1..W
	Path      string    `json:"path"`
	Slots     []Slot    `json:"slots"`

	RecruitedLeaders []RecruitedLeader `json:"recruited_leaders"`
	Commissions      CommissionTotals  `json:"commissions"`
	TLILevel         int               `json:"tli_level"`
	QualifiedLeaders int               `json:"qualified_leaders"`

	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"` // UTC
}

// EmptySlots returns width empty slots, positions 1..width.
func EmptySlots(width int) []Slot {
	slots := make([]Slot, width)
	for i := range slots {
		slots[i].Position = i + 1
	}
	return slots
}

func (n Node) IsRoot() bool { return n.ParentID == "" }

// OpenPosition returns the lowest empty slot position.
func (n Node) OpenPosition() (int, bool) {
	for _, s := range n.Slots {
		if !s.Filled() {
			return s.Position, true
		}
	}
	return 0, false
}

// FilledSlots returns the filled slots in position order.
func (n Node) FilledSlots() []Slot {
	filled := make([]Slot, 0, len(n.Slots))
	for _, s := range n.Slots {
		if s.Filled() {
			filled = append(filled, s)
		}
	}
	return filled
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	c := n
	c.Slots = append([]Slot(nil), n.Slots...)
	c.RecruitedLeaders = append([]RecruitedLeader(nil), n.RecruitedLeaders...)
	if n.Commissions.TSCByGeneration != nil {
		c.Commissions.TSCByGeneration = make(map[int]decimal.Decimal, len(n.Commissions.TSCByGeneration))
		for g, amt := range n.Commissions.TSCByGeneration {
			c.Commissions.TSCByGeneration[g] = amt
		}
	}
	return c
}

// Credit adds a commission record to the node's totals.
func (n *Node) Credit(r Record) {
	switch r.Type {
	case CommissionISP:
		n.Commissions.ISP = n.Commissions.ISP.add(r.Amount)
	case CommissionTSC:
		n.Commissions.TSC = n.Commissions.TSC.add(r.Amount)
		if n.Commissions.TSCByGeneration == nil {
			n.Commissions.TSCByGeneration = make(map[int]decimal.Decimal)
		}
		n.Commissions.TSCByGeneration[r.Generation] = n.Commissions.TSCByGeneration[r.Generation].Add(r.Amount)
	}
}

// RollMonth moves month-to-date earnings into last month.
func (n *Node) RollMonth() {
	n.Commissions.ISP = n.Commissions.ISP.roll()
	n.Commissions.TSC = n.Commissions.TSC.roll()
}

func (e Earnings) add(amt decimal.Decimal) Earnings {
	e.TotalEarned = e.TotalEarned.Add(amt)
	e.ThisMonth = e.ThisMonth.Add(amt)
	return e
}

func (e Earnings) roll() Earnings {
	e.LastMonth = e.ThisMonth
	e.ThisMonth = decimal.Zero
	return e
}

// ChildPath returns the path of the slot at position under a node at parentPath.
func ChildPath(parentPath string, position int) string {
	return parentPath + "." + strconv.Itoa(position)
}

// ParentPath returns the path of the node above path ("" for the root).
func ParentPath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

// NodeUpdate holds the mutable node attributes; nil fields are left untouched.
type NodeUpdate struct {
	Tier             *plan.Tier
	IsActive         *bool
	TLILevel         *int
	QualifiedLeaders *int
}

// PlaceRequest contains information needed to place a new participant.
type PlaceRequest struct {
	UserID    string    `json:"user_id" validate:"required"`
	SponsorID string    `json:"sponsor_id"` // empty places the root
	Username  string    `json:"username" validate:"required,alphanum_"`
	Tier      plan.Tier `json:"tier"`
}

// Placement describes where a participant landed.
type Placement struct {
	UserID    string `json:"user_id"`
	Level     int    `json:"level"`
	Position  int    `json:"position"`
	Path      string `json:"path"`
	ParentID  string `json:"parent_id,omitempty"`
	SponsorID string `json:"sponsor_id,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Spillover reports whether the participant was placed under someone other than their sponsor.
func (p Placement) Spillover() bool { return p.SponsorID != "" && p.ParentID != p.SponsorID }

// Target is an open slot found by the SpilloverLocator.
type Target struct {
	ParentID string `json:"parent_id"`
	Position int    `json:"position"`
	Level    int    `json:"level"` // level the new node will have
	Path     string `json:"path"`
}

type CommissionType string

const (
	CommissionISP CommissionType = "ISP" // Individual Sales Profit: direct sponsor
	CommissionTSC CommissionType = "TSC" // Team Sales Commission: matrix upline by generation
)

// Record is a single payout produced by a sale.
type Record struct {
	RecipientID string          `json:"recipient_id"`
	Type        CommissionType  `json:"type"`
	Generation  int             `json:"generation,omitempty"` // TSC only
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	BuyerID     string          `json:"buyer_id"`
}

// Sale is a purchase event; ID is the idempotency key at the ledger boundary.
type Sale struct {
	ID         string          `json:"id"`
	BuyerID    string          `json:"buyer_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
	PointValue decimal.Decimal `json:"point_value" validate:"gte=0"`
	CreatedAt  time.Time       `json:"created_at"` // UTC
}

// SaleResult is the outcome of processing a sale; Paid is false when the sale id was already recorded.
type SaleResult struct {
	Sale    Sale     `json:"sale"`
	Records []Record `json:"records"`
	Paid    bool     `json:"paid"`
}

// Descendant is a node below another, Level being relative to it (direct children = 1).
type Descendant struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Level       int    `json:"level"`
	MatrixLevel int    `json:"matrix_level"`
	Position    int    `json:"position"`
	Path        string `json:"path"`
	IsActive    bool   `json:"is_active"`
}

// TreeNode is a display node of a matrix tree; empty slots are placeholders.
type TreeNode struct {
	UserID      string     `json:"user_id,omitempty"`
	Username    string     `json:"username,omitempty"`
	Tier        plan.Tier  `json:"tier,omitempty"`
	Level       int        `json:"level,omitempty"`
	Position    int        `json:"position"`
	Path        string     `json:"path,omitempty"`
	Filled      bool       `json:"filled"`
	FilledAt    time.Time  `json:"filled_at,omitempty"`
	Placeholder bool       `json:"placeholder,omitempty"`
	Children    []TreeNode `json:"children,omitempty"`
}

type SpilloverStats struct {
	TotalRecruited    int     `json:"total_recruited"`
	DirectLine        int     `json:"direct_line"`
	SpilloverReceived int     `json:"spillover_received"`
	SpilloverGiven    int     `json:"spillover_given"`
	FillPercentage    float64 `json:"fill_percentage"`
}

type Stats struct {
	TotalDownline  int             `json:"total_downline"`
	ActiveDownline int             `json:"active_downline"`
	DeepestLevel   int             `json:"deepest_level"`
	FillPercentage float64         `json:"fill_percentage"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
}
