package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LoadFile reads a plan from any viper-supported file (yaml, json, toml..).
func LoadFile(path string) (Plan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Plan{}, errors.Wrapf(err, "reading plan file %s", path)
	}
	return Load(v)
}

// Load builds a Plan from v.
// `base` selects the starting plan (matrix | phased; default matrix), every other key overrides it:
//
//	base: matrix
//	width: 7
//	maxDepth: 10
//	defaultTier: FAM
//	ispRates: {FAM: 0, BRONZE: 0.18}
//	tscRates: {2: 0.10, 3: 0.05}
//	tliRequirements: {2: {leaders: 2, atLevel: 1}}
//
// The resulting plan is validated before being returned.
func Load(v *viper.Viper) (Plan, error) {
	var p Plan
	switch base := strings.ToLower(v.GetString("base")); base {
	case "", "matrix":
		p = Default()
	case "phased":
		p = Phased()
	default:
		return Plan{}, errors.Wrapf(ErrInvalidPlan, "unknown base plan %q", base)
	}

	if v.IsSet("name") {
		p.Name = v.GetString("name")
	}
	if v.IsSet("width") {
		p.Width = v.GetInt("width")
	}
	if v.IsSet("maxDepth") {
		p.MaxDepth = v.GetInt("maxDepth")
	}
	if v.IsSet("defaultTier") {
		p.DefaultTier = Tier(strings.ToUpper(v.GetString("defaultTier")))
	}

	if v.IsSet("ispRates") {
		rates := make(map[Tier]decimal.Decimal)
		for k, val := range v.GetStringMap("ispRates") {
			r, err := toDecimal(val)
			if err != nil {
				return Plan{}, errors.Wrapf(ErrInvalidPlan, "ISP rate for %q: %v", k, err)
			}
			// viper lower-cases keys
			rates[Tier(strings.ToUpper(k))] = r
		}
		p.ISPRates = rates
	}

	if v.IsSet("tscRates") {
		rates := make(map[int]decimal.Decimal)
		for k, val := range v.GetStringMap("tscRates") {
			gen, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(k), "g"))
			if err != nil {
				return Plan{}, errors.Wrapf(ErrInvalidPlan, "TSC generation key %q", k)
			}
			r, err := toDecimal(val)
			if err != nil {
				return Plan{}, errors.Wrapf(ErrInvalidPlan, "TSC rate for generation %d: %v", gen, err)
			}
			rates[gen] = r
		}
		p.TSCRates = rates
	}

	if v.IsSet("tliRequirements") {
		reqs := make(map[int]Requirement)
		for k := range v.GetStringMap("tliRequirements") {
			lvl, err := strconv.Atoi(k)
			if err != nil {
				return Plan{}, errors.Wrapf(ErrInvalidPlan, "TLI level key %q", k)
			}
			sub := v.Sub("tliRequirements." + k)
			if sub == nil {
				return Plan{}, errors.Wrapf(ErrInvalidPlan, "TLI level %d has no requirement", lvl)
			}
			reqs[lvl] = Requirement{Leaders: sub.GetInt("leaders"), AtLevel: sub.GetInt("atLevel")}
		}
		p.TLIRequirements = reqs
	}

	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func toDecimal(val interface{}) (decimal.Decimal, error) {
	switch v := val.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.NewFromString(fmt.Sprint(v))
	}
}
