package engine

import (
	"fmt"
	"strings"

	"yieldroute/pkg/plan"
)

// buildReasoning renders the deterministic, templated explanation shipped
// with every plan. Only computed numbers feed the template; there is no
// free-form generation, so identical plans carry identical text.
func buildReasoning(p *plan.AllocationPlan, universe, eligible int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Allocated %s %s across %d position(s) from %d eligible of %d candidates.",
		p.Request.TotalAmount.String(), p.Request.SourceToken, len(p.Legs), eligible, universe)
	fmt.Fprintf(&b, " Risk tolerance %d/10 with a %s horizon.",
		p.Request.RiskTolerance, strings.ToLower(string(p.Request.TimeHorizon)))

	for i := range p.Legs {
		l := &p.Legs[i]
		fmt.Fprintf(&b, " %s via %s on %s: %.2f%% at %.2f%% APY (risk %.1f).",
			l.Token, l.Protocol, l.Chain, l.Percentage, l.ExpectedYield, l.RiskScore)
	}

	fmt.Fprintf(&b, " Weighted APY %.2f%%, portfolio risk %.2f/10, diversification %.0f/100, confidence %.0f/100.",
		p.WeightedAPY, p.PortfolioRisk, p.DiversificationScore, p.ConfidenceScore)

	for _, w := range p.Risk.Warnings {
		fmt.Fprintf(&b, " Warning: %s.", w)
	}

	if p.YieldShortfall {
		fmt.Fprintf(&b, " Positions below the %.2f%% minimum yield were removed; allocated share is %.2f%% of the deposit.",
			p.Request.MinimumYield, p.TotalPercentage())
	}
	if p.CapShortfall {
		fmt.Fprintf(&b, " The 40%% per-position cap limits the allocated share to %.2f%% of the deposit.",
			p.TotalPercentage())
	}

	return b.String()
}
