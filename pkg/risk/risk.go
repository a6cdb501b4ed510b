// Package risk provides pure scoring functions over a candidate
// allocation. Scores use a 1-10 scale where 10 is the riskiest, except
// DiversificationBenefit where 10 is the best spread.
package risk

import (
	"fmt"
	"math"
)

// Liquidity tiers (weighted-average USD liquidity).
const (
	liquidityTierDeep  = 10_000_000
	liquidityTierSolid = 5_000_000
	liquidityTierThin  = 1_000_000
)

// Warning thresholds. Crossing one adds a specific warning string to the
// report so callers can surface it verbatim.
const (
	ConcentrationWarnThreshold = 7.0
	ProtocolWarnThreshold      = 6.0
	LiquidityWarnThreshold     = 5.0
	OverallWarnThreshold       = 8.0
)

// protocolRiskScores holds fixed per-protocol risk constants. Unknown
// protocols score 5.
var protocolRiskScores = map[string]float64{
	"lido":     2,
	"aave":     3,
	"compound": 3,
	"curve":    4,
	"yearn":    5,
	"convex":   5,
}

const unknownProtocolRisk = 5

// Asset is one weighted position in a candidate allocation. Weight is a
// fraction of the portfolio (0-1); weights need not sum to 1.
type Asset struct {
	Weight       float64
	RiskScore    float64 // 1-10, volatility proxy from market data
	LiquidityUSD float64
	Protocol     string
}

// Report aggregates every risk dimension for a candidate allocation.
type Report struct {
	Diversification float64  `json:"diversification"` // 1-10, higher is better
	Concentration   float64  `json:"concentration"`   // 1-10
	Liquidity       float64  `json:"liquidity"`       // 1-10
	Protocol        float64  `json:"protocol"`        // 1-10
	Market          float64  `json:"market"`          // 1-10
	Overall         float64  `json:"overall"`         // 1-10
	Warnings        []string `json:"warnings,omitempty"`
}

// Herfindahl returns the Herfindahl-Hirschman index of the weights,
// normalized so weights that do not sum to 1 are treated as shares of
// their own total. Returns 1 (full concentration) for empty input.
func Herfindahl(weights []float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 1
	}
	hhi := 0.0
	for _, w := range weights {
		s := w / total
		hhi += s * s
	}
	return hhi
}

// DiversificationBenefit maps the Herfindahl index of the weights onto a
// 1-10 scale where a higher value means a better spread.
func DiversificationBenefit(assets []Asset) float64 {
	hhi := Herfindahl(weightsOf(assets))
	benefit := (1 - hhi) * 10
	return clamp(benefit, 1, 10)
}

// ConcentrationRisk scores the largest single position: max weight x 10.
func ConcentrationRisk(assets []Asset) float64 {
	maxW := 0.0
	for _, a := range assets {
		if a.Weight > maxW {
			maxW = a.Weight
		}
	}
	return clamp(maxW*10, 0, 10)
}

// LiquidityRisk tiers the weighted-average liquidity of the allocation.
func LiquidityRisk(assets []Asset) float64 {
	totalW := 0.0
	weighted := 0.0
	for _, a := range assets {
		totalW += a.Weight
		weighted += a.Weight * a.LiquidityUSD
	}
	if totalW <= 0 {
		return unknownProtocolRisk
	}
	avg := weighted / totalW
	switch {
	case avg > liquidityTierDeep:
		return 1
	case avg > liquidityTierSolid:
		return 2
	case avg > liquidityTierThin:
		return 4
	default:
		return 7
	}
}

// ProtocolRisk is the weighted average of fixed per-protocol constants.
func ProtocolRisk(assets []Asset) float64 {
	totalW := 0.0
	weighted := 0.0
	for _, a := range assets {
		totalW += a.Weight
		weighted += a.Weight * protocolScore(a.Protocol)
	}
	if totalW <= 0 {
		return unknownProtocolRisk
	}
	return weighted / totalW
}

// MarketRisk is the weighted average of per-asset risk scores, used as a
// volatility proxy.
func MarketRisk(assets []Asset) float64 {
	totalW := 0.0
	weighted := 0.0
	for _, a := range assets {
		totalW += a.Weight
		weighted += a.Weight * a.RiskScore
	}
	if totalW <= 0 {
		return 0
	}
	return weighted / totalW
}

// Score builds the full risk report for a candidate allocation. Overall
// risk blends the components: 25% concentration, 20% liquidity, 25%
// protocol, 30% market.
func Score(assets []Asset) Report {
	r := Report{
		Diversification: DiversificationBenefit(assets),
		Concentration:   ConcentrationRisk(assets),
		Liquidity:       LiquidityRisk(assets),
		Protocol:        ProtocolRisk(assets),
		Market:          MarketRisk(assets),
	}
	r.Overall = 0.25*r.Concentration + 0.20*r.Liquidity + 0.25*r.Protocol + 0.30*r.Market

	if r.Concentration > ConcentrationWarnThreshold {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("high concentration risk: %.1f exceeds threshold %.1f", r.Concentration, ConcentrationWarnThreshold))
	}
	if r.Protocol > ProtocolWarnThreshold {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("high protocol risk: %.1f exceeds threshold %.1f", r.Protocol, ProtocolWarnThreshold))
	}
	if r.Liquidity > LiquidityWarnThreshold {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("high liquidity risk: %.1f exceeds threshold %.1f", r.Liquidity, LiquidityWarnThreshold))
	}
	if r.Overall > OverallWarnThreshold {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("high overall risk: %.1f exceeds threshold %.1f", r.Overall, OverallWarnThreshold))
	}
	return r
}

func protocolScore(protocol string) float64 {
	if s, ok := protocolRiskScores[protocol]; ok {
		return s
	}
	return unknownProtocolRisk
}

func weightsOf(assets []Asset) []float64 {
	weights := make([]float64, len(assets))
	for i, a := range assets {
		weights[i] = a.Weight
	}
	return weights
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
