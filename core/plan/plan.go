// Package plan holds the compensation-plan configuration consumed by the matrix engine:
// the matrix shape (fan-out width, maximum depth), the ISP rate per membership tier,
// the TSC rate per generation and the TLI qualification ladder.
package plan

import (
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPlan = errors.New("invalid compensation plan")
	ErrUnknownTier = errors.New("unknown membership tier")

	validate = validator.New()
)

type Tier string

// Membership tiers, lowest to highest.
const (
	TierFAM      Tier = "FAM"
	TierBronze   Tier = "BRONZE"
	TierCopper   Tier = "COPPER"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// Requirement is the TLI qualification rule for one level:
// at least Leaders personally recruited, active leaders currently at AtLevel or above.
type Requirement struct {
	Leaders int `json:"leaders"`
	AtLevel int `json:"at_level"`
}

type Plan struct {
	Name            string                   `json:"name" validate:"required"`
	Width           int                      `json:"width" validate:"min=1"`
	MaxDepth        int                      `json:"max_depth" validate:"min=2"`
	DefaultTier     Tier                     `json:"default_tier" validate:"required"`
	ISPRates        map[Tier]decimal.Decimal `json:"isp_rates" validate:"required,min=1"`
	TSCRates        map[int]decimal.Decimal  `json:"tsc_rates" validate:"required,min=1"`
	TLIRequirements map[int]Requirement      `json:"tli_requirements" validate:"required,min=1"`
}

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the 7-wide, 10-deep matrix plan.
func Default() Plan {
	return Plan{
		Name:        "matrix-7x10",
		Width:       7,
		MaxDepth:    10,
		DefaultTier: TierFAM,
		ISPRates: map[Tier]decimal.Decimal{
			TierFAM:      rate("0"),
			TierBronze:   rate("0.18"),
			TierCopper:   rate("0.22"),
			TierSilver:   rate("0.25"),
			TierGold:     rate("0.28"),
			TierPlatinum: rate("0.30"),
		},
		TSCRates: map[int]decimal.Decimal{
			2:  rate("0.10"),
			3:  rate("0.05"),
			4:  rate("0.03"),
			5:  rate("0.02"),
			6:  rate("0.01"),
			7:  rate("0.01"),
			8:  rate("0.01"),
			9:  rate("0.01"),
			10: rate("0.01"),
		},
		TLIRequirements: map[int]Requirement{
			1:  {Leaders: 0, AtLevel: 0},
			2:  {Leaders: 2, AtLevel: 1},
			3:  {Leaders: 2, AtLevel: 2},
			4:  {Leaders: 2, AtLevel: 3},
			5:  {Leaders: 2, AtLevel: 4},
			6:  {Leaders: 2, AtLevel: 5},
			7:  {Leaders: 7, AtLevel: 5},
			8:  {Leaders: 7, AtLevel: 6},
			9:  {Leaders: 7, AtLevel: 7},
			10: {Leaders: 7, AtLevel: 8},
		},
	}
}

// Phased returns the 3-wide phased plan: four levels deep, TSC paid on the three generations above the buyer.
func Phased() Plan {
	p := Default()
	p.Name = "phased-3x4"
	p.Width = 3
	p.MaxDepth = 4
	p.TSCRates = map[int]decimal.Decimal{
		2: rate("0.10"),
		3: rate("0.05"),
		4: rate("0.03"),
	}
	p.TLIRequirements = map[int]Requirement{
		1: {Leaders: 0, AtLevel: 0},
		2: {Leaders: 2, AtLevel: 1},
		3: {Leaders: 3, AtLevel: 2},
	}
	return p
}

// Validate fails fast on incomplete tables instead of letting lookups silently fall back to zero rates.
func (p Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(ErrInvalidPlan, err.Error())
	}
	if _, ok := p.ISPRates[p.DefaultTier]; !ok {
		return errors.Wrapf(ErrInvalidPlan, "default tier %q has no ISP rate", p.DefaultTier)
	}
	for tier, r := range p.ISPRates {
		if !validRate(r) {
			return errors.Wrapf(ErrInvalidPlan, "ISP rate for %q out of range: %s", tier, r)
		}
	}
	for gen, r := range p.TSCRates {
		if gen < 2 || gen > p.MaxDepth {
			return errors.Wrapf(ErrInvalidPlan, "TSC generation %d outside 2..%d", gen, p.MaxDepth)
		}
		if !validRate(r) {
			return errors.Wrapf(ErrInvalidPlan, "TSC rate for generation %d out of range: %s", gen, r)
		}
	}
	for i, lvl := range p.Levels() {
		if lvl != i+1 {
			return errors.Wrapf(ErrInvalidPlan, "TLI levels must be contiguous from 1 (missing %d)", i+1)
		}
		req := p.TLIRequirements[lvl]
		if req.Leaders < 0 || req.AtLevel < 0 {
			return errors.Wrapf(ErrInvalidPlan, "TLI level %d has a negative requirement", lvl)
		}
	}
	return nil
}

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}

// ISPRate returns the direct-sponsor rate for tier.
func (p Plan) ISPRate(tier Tier) (decimal.Decimal, error) {
	r, ok := p.ISPRates[tier]
	if !ok {
		return decimal.Zero, errors.Wrapf(ErrUnknownTier, "%q", tier)
	}
	return r, nil
}

// TSCRate returns the rate paid to the ancestor at generation gen, if any.
func (p Plan) TSCRate(gen int) (decimal.Decimal, bool) {
	r, ok := p.TSCRates[gen]
	return r, ok
}

// MaxGeneration is the deepest generation the TSC table pays.
func (p Plan) MaxGeneration() int {
	var max int
	for gen := range p.TSCRates {
		if gen > max {
			max = gen
		}
	}
	return max
}

// Requirement returns the TLI rule for level.
func (p Plan) Requirement(level int) (Requirement, bool) {
	req, ok := p.TLIRequirements[level]
	return req, ok
}

// Levels returns the configured TLI levels in ascending order.
func (p Plan) Levels() []int {
	levels := make([]int, 0, len(p.TLIRequirements))
	for lvl := range p.TLIRequirements {
		levels = append(levels, lvl)
	}
	sort.Ints(levels)
	return levels
}

// HasTier reports whether tier is part of the plan.
func (p Plan) HasTier(tier Tier) bool {
	_, ok := p.ISPRates[tier]
	return ok
}
