package plan

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"yieldroute/pkg/risk"
	"yieldroute/pkg/types"
)

// PercentTolerance is the accepted rounding slack when checking that leg
// percentages cover the full deposit.
const PercentTolerance = 1.0

// AllocationLeg is one token/protocol/chain slice of a plan, executed as
// an independent unit of work. Amount is the capital committed to the
// leg, in the source token's smallest unit.
type AllocationLeg struct {
	Token         string       `json:"token"`
	Chain         types.Chain  `json:"chain"`
	Protocol      string       `json:"protocol"`
	Percentage    float64      `json:"percentage"` // 0-100
	Amount        types.Amount `json:"amount"`
	ExpectedYield float64      `json:"expected_yield"`
	RiskScore     float64      `json:"risk_score"`
}

// Weight returns the leg's portfolio fraction (percentage / 100).
func (l *AllocationLeg) Weight() float64 {
	return l.Percentage / 100
}

// AllocationPlan is the engine's output: an ordered list of legs plus
// aggregate metrics. A plan is immutable once returned.
type AllocationPlan struct {
	ID      string                  `json:"id"`
	Request types.AllocationRequest `json:"request"`
	Legs    []AllocationLeg         `json:"legs"`

	// Source-token valuation used for USD reporting on execution.
	SourcePriceUSD decimal.Decimal `json:"source_price_usd"`
	SourceDecimals int             `json:"source_decimals"`

	WeightedAPY          float64     `json:"weighted_apy"`
	PortfolioRisk        float64     `json:"portfolio_risk"`
	Risk                 risk.Report `json:"risk"`
	DiversificationScore float64     `json:"diversification_score"` // 0-100
	ConfidenceScore      float64     `json:"confidence_score"`      // 20-95
	Reasoning            string      `json:"reasoning"`

	// YieldShortfall marks plans whose percentages sum below 100 because
	// the minimum-yield filter removed legs. This is an accepted state,
	// never silently renormalized away.
	YieldShortfall bool `json:"yield_shortfall"`
	// CapShortfall marks plans where fewer than three legs survived
	// filtering, so the 40% per-leg cap makes a full 100% unreachable.
	CapShortfall bool      `json:"cap_shortfall"`
	CreatedAt    time.Time `json:"created_at"`
}

// TotalPercentage sums all leg percentages.
func (p *AllocationPlan) TotalPercentage() float64 {
	total := 0.0
	for i := range p.Legs {
		total += p.Legs[i].Percentage
	}
	return total
}

// Validate checks the plan invariants: percentages cover 100 within
// tolerance unless a shortfall is recorded, and every leg sits in the
// [5, 40] percent band.
func (p *AllocationPlan) Validate() error {
	if len(p.Legs) == 0 {
		return fmt.Errorf("plan has no legs")
	}
	total := p.TotalPercentage()
	if total > 100+PercentTolerance {
		return fmt.Errorf("leg percentages sum to %.2f, above 100", total)
	}
	if !p.YieldShortfall && !p.CapShortfall && math.Abs(total-100) > PercentTolerance {
		return fmt.Errorf("leg percentages sum to %.2f, want 100 within %.1f", total, PercentTolerance)
	}
	for i := range p.Legs {
		pct := p.Legs[i].Percentage
		if pct > 40+PercentTolerance {
			return fmt.Errorf("leg %s exceeds the 40%% cap: %.2f", p.Legs[i].Token, pct)
		}
		if pct < 5-PercentTolerance {
			return fmt.Errorf("leg %s is below the 5%% floor: %.2f", p.Legs[i].Token, pct)
		}
	}
	return nil
}

// Summary is a compact view of a plan for listings.
type Summary struct {
	ID          string    `json:"id"`
	SourceToken string    `json:"source_token"`
	TotalAmount string    `json:"total_amount"`
	Legs        int       `json:"legs"`
	WeightedAPY float64   `json:"weighted_apy"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToSummary converts a plan to its listing view.
func (p *AllocationPlan) ToSummary() Summary {
	return Summary{
		ID:          p.ID,
		SourceToken: p.Request.SourceToken,
		TotalAmount: p.Request.TotalAmount.String(),
		Legs:        len(p.Legs),
		WeightedAPY: p.WeightedAPY,
		Confidence:  p.ConfidenceScore,
		CreatedAt:   p.CreatedAt,
	}
}
