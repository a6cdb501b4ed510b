// Package engine turns an allocation request and a market snapshot into
// a constrained, weighted allocation plan. ComputeAllocation is pure:
// identical inputs produce an identical plan, reasoning text included.
package engine

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yieldroute/pkg/market"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/risk"
	"yieldroute/pkg/types"
)

// Weight constraints per leg. A weight below the floor is dropped
// entirely; a weight above the cap has its excess redistributed to
// uncapped legs.
const (
	MinWeight = 0.05
	MaxWeight = 0.40
)

// DefaultLiquidityFloorUSD drops candidates too thin to absorb a
// deposit without material slippage.
const DefaultLiquidityFloorUSD = 500_000

// Confidence blend weights and bounds.
const (
	confidenceFreshnessWeight = 0.3
	confidenceDiversityWeight = 0.4
	confidenceYieldWeight     = 0.3
	confidenceMin             = 20.0
	confidenceMax             = 95.0
)

// Typed failures surfaced to callers before any legs exist.
var (
	ErrNoEligibleTokens       = errors.New("no eligible tokens after filtering")
	ErrOptimizationDegenerate = errors.New("candidate scores sum to zero, cannot weight allocation")
)

// Options tunes engine behavior. The zero value uses defaults.
type Options struct {
	LiquidityFloorUSD  float64
	FreshnessDecayRate float64
	FreshnessFloor     float64
	// Now returns the current time; injected so planning is
	// reproducible in tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine computes allocation plans.
type Engine struct {
	opts Options
	log  zerolog.Logger
}

// New creates an engine with the given options.
func New(opts Options, log zerolog.Logger) *Engine {
	if opts.LiquidityFloorUSD <= 0 {
		opts.LiquidityFloorUSD = DefaultLiquidityFloorUSD
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts: opts,
		log:  log.With().Str("component", "engine").Logger(),
	}
}

// ComputeAllocation builds a plan for the request from the snapshot.
// The snapshot's correlation matrix rides along for risk diagnostics;
// partial or stale market data lowers the confidence score rather than
// failing the request.
func (e *Engine) ComputeAllocation(req *types.AllocationRequest, snap *market.Snapshot) (*plan.AllocationPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid allocation request: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market snapshot: %w", err)
	}

	eligible := e.filterCandidates(req, snap.Candidates)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleTokens
	}

	scores := make([]float64, len(eligible))
	total := 0.0
	for i, c := range eligible {
		scores[i] = candidateScore(req, c)
		total += scores[i]
	}
	if total <= 0 {
		return nil, ErrOptimizationDegenerate
	}

	weights := make([]float64, len(eligible))
	for i := range scores {
		weights[i] = scores[i] / total
	}
	weights, eligible = applyWeightConstraints(weights, eligible)
	if len(eligible) == 0 {
		return nil, ErrOptimizationDegenerate
	}

	legs, capShort := buildLegs(req, eligible, weights)
	legs, yieldShort := applyMinimumYield(legs, req.MinimumYield)
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: every leg fell below the minimum yield %.2f%%", ErrNoEligibleTokens, req.MinimumYield)
	}

	p := &plan.AllocationPlan{
		ID:             deterministicPlanID(req, snap),
		Request:        *req,
		Legs:           legs,
		YieldShortfall: yieldShort,
		CapShortfall:   capShort,
		CreatedAt:      snap.CollectedAt,
	}
	price := snap.PriceOf(req.SourceToken)
	p.SourcePriceUSD = price.PriceUSD
	p.SourceDecimals = price.Decimals

	e.computeAggregates(p, snap)
	p.Reasoning = buildReasoning(p, len(snap.Candidates), len(eligible))

	e.log.Debug().
		Str("plan_id", p.ID).
		Int("legs", len(p.Legs)).
		Float64("weighted_apy", p.WeightedAPY).
		Float64("confidence", p.ConfidenceScore).
		Bool("yield_shortfall", p.YieldShortfall).
		Msg("Computed allocation plan")

	return p, nil
}

// filterCandidates applies the exclusion list, the preference list and
// the liquidity floor, preserving snapshot order.
func (e *Engine) filterCandidates(req *types.AllocationRequest, candidates []types.TokenCandidate) []types.TokenCandidate {
	out := make([]types.TokenCandidate, 0, len(candidates))
	for _, c := range candidates {
		if req.IsExcluded(c.Token) {
			continue
		}
		if !req.IsPreferred(c.Token) {
			continue
		}
		if c.LiquidityUSD < e.opts.LiquidityFloorUSD {
			continue
		}
		out = append(out, c)
	}
	return out
}

// candidateScore favors yield, scaled by the caller's risk appetite and
// horizon, and penalized by the candidate's risk score.
func candidateScore(req *types.AllocationRequest, c types.TokenCandidate) float64 {
	riskDivisor := math.Max(c.RiskScore, 1)
	return c.ExpectedYield * (float64(req.RiskTolerance) / 10) * req.TimeHorizon.Multiplier() / riskDivisor
}

// applyWeightConstraints drops weights below MinWeight, renormalizes the
// survivors, then caps at MaxWeight, redistributing the excess to
// uncapped legs proportionally. With fewer than three survivors every
// leg caps out and the total stays below 1; callers record that as a
// cap shortfall rather than breaching the cap.
func applyWeightConstraints(weights []float64, candidates []types.TokenCandidate) ([]float64, []types.TokenCandidate) {
	keptW := make([]float64, 0, len(weights))
	keptC := make([]types.TokenCandidate, 0, len(candidates))
	sum := 0.0
	for i, w := range weights {
		if w < MinWeight {
			continue
		}
		keptW = append(keptW, w)
		keptC = append(keptC, candidates[i])
		sum += w
	}
	if len(keptW) == 0 || sum <= 0 {
		return nil, nil
	}
	for i := range keptW {
		keptW[i] /= sum
	}

	// Redistribute cap excess. Each round caps at least one more leg, so
	// len(keptW) rounds suffice.
	capped := make([]bool, len(keptW))
	for round := 0; round < len(keptW); round++ {
		excess := 0.0
		uncappedSum := 0.0
		for i, w := range keptW {
			if w > MaxWeight {
				excess += w - MaxWeight
				keptW[i] = MaxWeight
				capped[i] = true
			} else if !capped[i] {
				uncappedSum += w
			}
		}
		if excess == 0 || uncappedSum == 0 {
			break
		}
		for i, w := range keptW {
			if !capped[i] {
				keptW[i] = w + excess*(w/uncappedSum)
			}
		}
	}
	return keptW, keptC
}

// buildLegs converts weights to percentages and integer amounts.
// Amounts are floor(total*weight); the rounding residual goes to the
// largest leg so no value is silently lost. Returns true when the
// weight cap left the total below 100%.
func buildLegs(req *types.AllocationRequest, candidates []types.TokenCandidate, weights []float64) ([]plan.AllocationLeg, bool) {
	const scale = 1_000_000_000 // weight fixed-point denominator

	legs := make([]plan.AllocationLeg, len(candidates))
	allocated := new(big.Int)
	totalWeight := 0.0
	largest := 0

	for i, c := range candidates {
		w := weights[i]
		totalWeight += w
		num := new(big.Int).Mul(req.TotalAmount.Int, big.NewInt(int64(math.Floor(w*scale))))
		amount := num.Div(num, big.NewInt(scale))
		allocated.Add(allocated, amount)
		if w > weights[largest] {
			largest = i
		}
		legs[i] = plan.AllocationLeg{
			Token:         c.Token,
			Chain:         c.Chain,
			Protocol:      c.Protocol,
			Percentage:    w * 100,
			Amount:        types.NewAmount(amount),
			ExpectedYield: c.ExpectedYield,
			RiskScore:     c.RiskScore,
		}
	}

	capShort := totalWeight < 1-plan.PercentTolerance/100
	if !capShort {
		// Residual from flooring goes to the largest leg.
		residual := new(big.Int).Sub(req.TotalAmount.Int, allocated)
		if residual.Sign() > 0 {
			legs[largest].Amount.Int.Add(legs[largest].Amount.Int, residual)
		}
	}
	return legs, capShort
}

// applyMinimumYield drops legs below the yield floor. Percentages are
// left as-is: the resulting shortfall is reported, not renormalized.
func applyMinimumYield(legs []plan.AllocationLeg, minimumYield float64) ([]plan.AllocationLeg, bool) {
	if minimumYield <= 0 {
		return legs, false
	}
	kept := make([]plan.AllocationLeg, 0, len(legs))
	for _, l := range legs {
		if l.ExpectedYield < minimumYield {
			continue
		}
		kept = append(kept, l)
	}
	return kept, len(kept) < len(legs)
}

// computeAggregates fills the plan's metric fields from the final legs.
func (e *Engine) computeAggregates(p *plan.AllocationPlan, snap *market.Snapshot) {
	assets := make([]risk.Asset, len(p.Legs))
	for i := range p.Legs {
		l := &p.Legs[i]
		w := l.Weight()
		p.WeightedAPY += w * l.ExpectedYield
		p.PortfolioRisk += w * l.RiskScore
		assets[i] = risk.Asset{
			Weight:       w,
			RiskScore:    l.RiskScore,
			LiquidityUSD: legLiquidity(snap, l),
			Protocol:     l.Protocol,
		}
	}
	p.Risk = risk.Score(assets)

	hhi := risk.Herfindahl(weightsOfLegs(p.Legs))
	p.DiversificationScore = (1 - hhi) * 100

	freshness := snap.Freshness(e.opts.Now(), e.opts.FreshnessDecayRate, e.opts.FreshnessFloor)
	yieldTerm := math.Min(p.WeightedAPY*5, 30)
	confidence := freshness*confidenceFreshnessWeight +
		p.DiversificationScore*confidenceDiversityWeight +
		yieldTerm*confidenceYieldWeight
	p.ConfidenceScore = math.Min(confidenceMax, math.Max(confidenceMin, confidence))
}

// legLiquidity looks the leg's pool liquidity back up in the snapshot.
func legLiquidity(snap *market.Snapshot, l *plan.AllocationLeg) float64 {
	for i := range snap.Candidates {
		c := &snap.Candidates[i]
		if c.Token == l.Token && c.Chain == l.Chain && c.Protocol == l.Protocol {
			return c.LiquidityUSD
		}
	}
	return 0
}

func weightsOfLegs(legs []plan.AllocationLeg) []float64 {
	weights := make([]float64, len(legs))
	for i := range legs {
		weights[i] = legs[i].Weight()
	}
	return weights
}

// deterministicPlanID derives the plan id from the request and snapshot
// so identical inputs yield an identical plan, id included.
func deterministicPlanID(req *types.AllocationRequest, snap *market.Snapshot) string {
	seed := fmt.Sprintf("%s|%s|%s|%d|%s|%.4f|%s|%v|%v",
		req.SourceToken, req.SourceChain, req.TotalAmount.String(),
		req.RiskTolerance, req.TimeHorizon, req.MinimumYield,
		snap.CollectedAt.UTC().Format(time.RFC3339Nano),
		sortedCopy(req.Preferred), sortedCopy(req.Excluded))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
