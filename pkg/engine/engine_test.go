package engine

import (
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldroute/pkg/market"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

var testCollectedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot() *market.Snapshot {
	return &market.Snapshot{
		Candidates: []types.TokenCandidate{
			{Token: "stETH", Chain: types.ChainEthereum, Protocol: "lido", ExpectedYield: 4.2, RiskScore: 3, LiquidityUSD: 30_000_000, PriceUSD: decimal.NewFromInt(2400), Decimals: 18},
			{Token: "aUSDC", Chain: types.ChainPolygon, Protocol: "aave", ExpectedYield: 5.1, RiskScore: 4, LiquidityUSD: 12_000_000, PriceUSD: decimal.NewFromInt(1), Decimals: 6},
			{Token: "yvUSDC", Chain: types.ChainEthereum, Protocol: "yearn", ExpectedYield: 7.5, RiskScore: 6, LiquidityUSD: 4_000_000, PriceUSD: decimal.NewFromInt(1), Decimals: 6},
			{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", ExpectedYield: 6.0, RiskScore: 5, LiquidityUSD: 8_000_000, PriceUSD: decimal.NewFromInt(1), Decimals: 18},
		},
		Prices: map[string]market.TokenPrice{
			"USDC": {PriceUSD: decimal.NewFromInt(1), Decimals: 6},
		},
		CollectedAt: testCollectedAt,
	}
}

func testRequest() *types.AllocationRequest {
	return &types.AllocationRequest{
		SourceToken:   "USDC",
		SourceChain:   types.ChainEthereum,
		TotalAmount:   mustAmount("1000000000"), // 1,000 USDC
		RiskTolerance: 5,
		TimeHorizon:   types.HorizonMedium,
	}
}

func testEngine() *Engine {
	return New(Options{
		Now: func() time.Time { return testCollectedAt.Add(5 * time.Minute) },
	}, zerolog.Nop())
}

func mustAmount(s string) types.Amount {
	a, err := types.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestEngine_ComputeAllocation_Deterministic(t *testing.T) {
	eng := testEngine()

	first, err := eng.ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)
	second, err := eng.ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reasoning, second.Reasoning)
	assert.Equal(t, first.Legs, second.Legs)
	assert.Equal(t, first.WeightedAPY, second.WeightedAPY)
	assert.Equal(t, first.ConfidenceScore, second.ConfidenceScore)
}

func TestEngine_ComputeAllocation_WeightBand(t *testing.T) {
	eng := testEngine()

	p, err := eng.ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Len(t, p.Legs, 4)
	for i := range p.Legs {
		assert.GreaterOrEqual(t, p.Legs[i].Percentage, 5.0-plan.PercentTolerance)
		assert.LessOrEqual(t, p.Legs[i].Percentage, 40.0+plan.PercentTolerance)
	}
	assert.InDelta(t, 100.0, p.TotalPercentage(), plan.PercentTolerance)
}

func TestEngine_ComputeAllocation_AmountsConserved(t *testing.T) {
	eng := testEngine()
	req := testRequest()

	p, err := eng.ComputeAllocation(req, testSnapshot())
	require.NoError(t, err)
	require.False(t, p.CapShortfall)

	total := new(big.Int)
	for i := range p.Legs {
		total.Add(total, p.Legs[i].Amount.Int)
	}
	// Flooring residue lands on the largest leg, nothing is lost.
	assert.Equal(t, 0, total.Cmp(req.TotalAmount.Int))
}

func TestEngine_ComputeAllocation_DropsTinyWeights(t *testing.T) {
	snap := testSnapshot()
	snap.Candidates = append(snap.Candidates, types.TokenCandidate{
		Token: "junkUSD", Chain: types.ChainBase, Protocol: "farm",
		ExpectedYield: 0.5, RiskScore: 10, LiquidityUSD: 2_000_000,
	})

	p, err := testEngine().ComputeAllocation(testRequest(), snap)
	require.NoError(t, err)

	assert.Len(t, p.Legs, 4)
	for i := range p.Legs {
		assert.NotEqual(t, "junkUSD", p.Legs[i].Token)
	}
	assert.InDelta(t, 100.0, p.TotalPercentage(), plan.PercentTolerance)
}

func TestEngine_ComputeAllocation_CapShortfallWithTwoLegs(t *testing.T) {
	req := testRequest()
	req.Preferred = []string{"stETH", "aUSDC"}

	p, err := testEngine().ComputeAllocation(req, testSnapshot())
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.True(t, p.CapShortfall)
	assert.Len(t, p.Legs, 2)
	for i := range p.Legs {
		assert.InDelta(t, 40.0, p.Legs[i].Percentage, plan.PercentTolerance)
	}
	assert.InDelta(t, 80.0, p.TotalPercentage(), plan.PercentTolerance)
}

func TestEngine_ComputeAllocation_MinimumYieldShortfall(t *testing.T) {
	req := testRequest()
	req.MinimumYield = 5.0

	p, err := testEngine().ComputeAllocation(req, testSnapshot())
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.True(t, p.YieldShortfall)
	assert.Len(t, p.Legs, 3) // stETH at 4.2% falls out
	for i := range p.Legs {
		assert.GreaterOrEqual(t, p.Legs[i].ExpectedYield, 5.0)
	}
	// The removed share is reported, never renormalized away.
	assert.Less(t, p.TotalPercentage(), 100.0-plan.PercentTolerance)
}

func TestEngine_ComputeAllocation_ExclusionAndLiquidityFloor(t *testing.T) {
	req := testRequest()
	req.Excluded = []string{"stETH", "aUSDC", "yvUSDC", "crvUSD"}

	_, err := testEngine().ComputeAllocation(req, testSnapshot())
	assert.ErrorIs(t, err, ErrNoEligibleTokens)

	snap := testSnapshot()
	for i := range snap.Candidates {
		snap.Candidates[i].LiquidityUSD = 100_000 // below the floor
	}
	_, err = testEngine().ComputeAllocation(testRequest(), snap)
	assert.ErrorIs(t, err, ErrNoEligibleTokens)
}

func TestEngine_ComputeAllocation_DegenerateScores(t *testing.T) {
	snap := testSnapshot()
	for i := range snap.Candidates {
		snap.Candidates[i].ExpectedYield = 0
	}

	_, err := testEngine().ComputeAllocation(testRequest(), snap)
	assert.ErrorIs(t, err, ErrOptimizationDegenerate)
}

func TestEngine_ComputeAllocation_RiskToleranceMonotonic(t *testing.T) {
	conservative := testRequest()
	conservative.RiskTolerance = 2
	aggressive := testRequest()
	aggressive.RiskTolerance = 9

	eng := testEngine()
	pc, err := eng.ComputeAllocation(conservative, testSnapshot())
	require.NoError(t, err)
	pa, err := eng.ComputeAllocation(aggressive, testSnapshot())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, pa.PortfolioRisk, pc.PortfolioRisk)
	assert.GreaterOrEqual(t, pa.WeightedAPY, pc.WeightedAPY)
}

func TestEngine_ComputeAllocation_ConfidenceBounds(t *testing.T) {
	fresh := New(Options{
		Now: func() time.Time { return testCollectedAt },
	}, zerolog.Nop())
	stale := New(Options{
		Now: func() time.Time { return testCollectedAt.Add(6 * time.Hour) },
	}, zerolog.Nop())

	pf, err := fresh.ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)
	ps, err := stale.ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, pf.ConfidenceScore, ps.ConfidenceScore)
	for _, p := range []*plan.AllocationPlan{pf, ps} {
		assert.GreaterOrEqual(t, p.ConfidenceScore, 20.0)
		assert.LessOrEqual(t, p.ConfidenceScore, 95.0)
	}
}

func TestEngine_ComputeAllocation_SourcePriceCarried(t *testing.T) {
	p, err := testEngine().ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)

	assert.True(t, p.SourcePriceUSD.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 6, p.SourceDecimals)
	assert.Equal(t, testCollectedAt, p.CreatedAt)
}

func TestEngine_ComputeAllocation_WeightedAPYMatchesLegs(t *testing.T) {
	p, err := testEngine().ComputeAllocation(testRequest(), testSnapshot())
	require.NoError(t, err)

	want := 0.0
	for i := range p.Legs {
		want += p.Legs[i].Weight() * p.Legs[i].ExpectedYield
	}
	assert.InDelta(t, want, p.WeightedAPY, 1e-9)
}

func TestEngine_ComputeAllocation_InvalidRequest(t *testing.T) {
	req := testRequest()
	req.RiskTolerance = 11

	_, err := testEngine().ComputeAllocation(req, testSnapshot())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "risk tolerance")
}
