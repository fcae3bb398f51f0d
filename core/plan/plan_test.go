package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPlansAreValid(t *testing.T) {
	for _, p := range []Plan{Default(), Phased()} {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Validate())
		})
	}
	assert.Equal(t, 10, Default().MaxGeneration())
	assert.Equal(t, 4, Phased().MaxGeneration())
}

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{name: "zero width", mutate: func(p *Plan) { p.Width = 0 }},
		{name: "depth too shallow", mutate: func(p *Plan) { p.MaxDepth = 1 }},
		{name: "default tier without rate", mutate: func(p *Plan) { p.DefaultTier = "DIAMOND" }},
		{name: "negative ISP rate", mutate: func(p *Plan) { p.ISPRates[TierGold] = decimal.RequireFromString("-0.1") }},
		{name: "ISP rate above 100%", mutate: func(p *Plan) { p.ISPRates[TierGold] = decimal.RequireFromString("1.5") }},
		{name: "TSC generation 1", mutate: func(p *Plan) { p.TSCRates[1] = decimal.RequireFromString("0.1") }},
		{name: "TSC generation deeper than matrix", mutate: func(p *Plan) { p.TSCRates[11] = decimal.RequireFromString("0.1") }},
		{name: "TLI gap", mutate: func(p *Plan) { delete(p.TLIRequirements, 3) }},
		{name: "empty TSC table", mutate: func(p *Plan) { p.TSCRates = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
		})
	}
}

func TestPlan_ISPRate(t *testing.T) {
	p := Default()

	r, err := p.ISPRate(TierSilver)
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.25")))

	_, err = p.ISPRate("DIAMOND")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestPlan_TSCRate(t *testing.T) {
	p := Default()

	_, ok := p.TSCRate(1)
	assert.False(t, ok, "the buyer's own generation is never paid")

	r, ok := p.TSCRate(2)
	require.True(t, ok)
	assert.True(t, r.Equal(decimal.RequireFromString("0.10")))

	_, ok = p.TSCRate(11)
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	content := `
base: phased
name: trial
width: 5
defaultTier: bronze
ispRates:
  BRONZE: 0.2
  GOLD: "0.3"
tscRates:
  2: 0.1
  g3: 0.04
tliRequirements:
  1: {leaders: 0, atLevel: 0}
  2: {leaders: 3, atLevel: 1}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "trial", p.Name)
	assert.Equal(t, 5, p.Width)
	assert.Equal(t, 4, p.MaxDepth, "inherited from the phased base")
	assert.Equal(t, TierBronze, p.DefaultTier)
	assert.Len(t, p.ISPRates, 2)
	assert.True(t, p.ISPRates[TierGold].Equal(decimal.RequireFromString("0.3")))
	assert.True(t, p.TSCRates[3].Equal(decimal.RequireFromString("0.04")))
	assert.Equal(t, 3, p.MaxGeneration())
	assert.Equal(t, Requirement{Leaders: 3, AtLevel: 1}, p.TLIRequirements[2])
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown base", content: "base: pyramid\n"},
		{name: "bad rate", content: "ispRates:\n  FAM: lots\n"},
		{name: "bad generation", content: "tscRates:\n  second: 0.1\n"},
		{name: "default tier missing", content: "defaultTier: DIAMOND\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := LoadFile(path)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}
