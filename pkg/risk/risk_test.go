package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHerfindahl_EqualWeights(t *testing.T) {
	hhi := Herfindahl([]float64{0.25, 0.25, 0.25, 0.25})
	assert.InDelta(t, 0.25, hhi, 1e-9)
}

func TestHerfindahl_SinglePosition(t *testing.T) {
	assert.InDelta(t, 1.0, Herfindahl([]float64{0.8}), 1e-9)
}

func TestHerfindahl_NormalizesPartialWeights(t *testing.T) {
	// Weights summing to 0.5 score like the same shape summing to 1.
	partial := Herfindahl([]float64{0.3, 0.2})
	full := Herfindahl([]float64{0.6, 0.4})
	assert.InDelta(t, full, partial, 1e-9)
}

func TestHerfindahl_EmptyIsFullConcentration(t *testing.T) {
	assert.Equal(t, 1.0, Herfindahl(nil))
	assert.Equal(t, 1.0, Herfindahl([]float64{0, 0}))
}

func TestDiversificationBenefit_Clamped(t *testing.T) {
	// A single position has zero spread but still scores the floor.
	single := DiversificationBenefit([]Asset{{Weight: 1}})
	assert.Equal(t, 1.0, single)

	spread := DiversificationBenefit([]Asset{
		{Weight: 0.4}, {Weight: 0.35}, {Weight: 0.25},
	})
	assert.Greater(t, spread, single)
	assert.LessOrEqual(t, spread, 10.0)
}

func TestConcentrationRisk_MaxWeightTimesTen(t *testing.T) {
	risk := ConcentrationRisk([]Asset{
		{Weight: 0.40}, {Weight: 0.35}, {Weight: 0.25},
	})
	assert.InDelta(t, 4.0, risk, 1e-9)
}

func TestLiquidityRisk_Tiers(t *testing.T) {
	tests := []struct {
		name         string
		liquidityUSD float64
		want         float64
	}{
		{name: "deep", liquidityUSD: 50_000_000, want: 1},
		{name: "solid", liquidityUSD: 8_000_000, want: 2},
		{name: "thin", liquidityUSD: 2_000_000, want: 4},
		{name: "illiquid", liquidityUSD: 500_000, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LiquidityRisk([]Asset{{Weight: 1, LiquidityUSD: tt.liquidityUSD}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiquidityRisk_WeightedAverage(t *testing.T) {
	// 0.5 * 20M + 0.5 * 2M = 11M, above the deep tier.
	got := LiquidityRisk([]Asset{
		{Weight: 0.5, LiquidityUSD: 20_000_000},
		{Weight: 0.5, LiquidityUSD: 2_000_000},
	})
	assert.Equal(t, 1.0, got)
}

func TestProtocolRisk_Constants(t *testing.T) {
	tests := []struct {
		protocol string
		want     float64
	}{
		{"lido", 2},
		{"aave", 3},
		{"compound", 3},
		{"curve", 4},
		{"yearn", 5},
		{"convex", 5},
		{"unknown-farm", 5},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			got := ProtocolRisk([]Asset{{Weight: 1, Protocol: tt.protocol}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarketRisk_WeightedAverage(t *testing.T) {
	got := MarketRisk([]Asset{
		{Weight: 0.6, RiskScore: 3},
		{Weight: 0.4, RiskScore: 8},
	})
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestScore_OverallBlend(t *testing.T) {
	assets := []Asset{
		{Weight: 0.4, RiskScore: 4, LiquidityUSD: 20_000_000, Protocol: "lido"},
		{Weight: 0.35, RiskScore: 5, LiquidityUSD: 8_000_000, Protocol: "aave"},
		{Weight: 0.25, RiskScore: 6, LiquidityUSD: 3_000_000, Protocol: "curve"},
	}

	r := Score(assets)
	want := 0.25*r.Concentration + 0.20*r.Liquidity + 0.25*r.Protocol + 0.30*r.Market
	assert.InDelta(t, want, r.Overall, 1e-9)
	assert.Empty(t, r.Warnings)
}

func TestScore_ConcentrationWarning(t *testing.T) {
	r := Score([]Asset{
		{Weight: 0.8, RiskScore: 3, LiquidityUSD: 20_000_000, Protocol: "lido"},
		{Weight: 0.2, RiskScore: 3, LiquidityUSD: 20_000_000, Protocol: "aave"},
	})

	assert.InDelta(t, 8.0, r.Concentration, 1e-9)
	assert.Contains(t, r.Warnings, "high concentration risk: 8.0 exceeds threshold 7.0")
}

func TestScore_LiquidityWarning(t *testing.T) {
	r := Score([]Asset{
		{Weight: 0.5, RiskScore: 3, LiquidityUSD: 400_000, Protocol: "lido"},
		{Weight: 0.5, RiskScore: 3, LiquidityUSD: 300_000, Protocol: "aave"},
	})

	assert.Equal(t, 7.0, r.Liquidity)
	assert.Contains(t, r.Warnings, "high liquidity risk: 7.0 exceeds threshold 5.0")
}

func TestScore_EmptyAllocation(t *testing.T) {
	r := Score(nil)
	assert.Equal(t, 1.0, r.Diversification)
	assert.Equal(t, 0.0, r.Concentration)
	assert.Equal(t, 0.0, r.Market)
}
