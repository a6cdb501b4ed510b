// Package market defines the read-only market data snapshot consumed by
// the allocation engine and the provider interface that supplies it.
package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"

	"yieldroute/pkg/types"
)

// Freshness decay defaults. A snapshot loses decayRate confidence points
// per minute of age, floored so stale data degrades the confidence score
// instead of failing the request outright.
const (
	DefaultDecayRatePerMinute = 2.0
	DefaultFreshnessFloor     = 20.0
)

// Provider supplies the token universe and correlation estimates.
// Implementations are external feeds; the engine never originates
// yield, risk or correlation values itself.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// TokenPrice is the spot valuation of a plain (non yield-bearing) token,
// used to value deposits in USD.
type TokenPrice struct {
	PriceUSD decimal.Decimal `json:"price_usd"`
	Decimals int             `json:"decimals"`
}

// Snapshot is an immutable view of the investable universe at a point
// in time. Correlations, when present, is ordered like Candidates.
type Snapshot struct {
	Candidates   []types.TokenCandidate
	Prices       map[string]TokenPrice
	Correlations *mat.SymDense
	CollectedAt  time.Time
}

// PriceOf returns the spot valuation for a token symbol. Missing entries
// fall back to a unit price with zero decimals so partial feeds degrade
// reporting precision instead of failing the request.
func (s *Snapshot) PriceOf(token string) TokenPrice {
	if p, ok := s.Prices[token]; ok {
		return p
	}
	return TokenPrice{PriceUSD: decimal.NewFromInt(1), Decimals: 0}
}

// Validate checks internal consistency of the snapshot.
func (s *Snapshot) Validate() error {
	if len(s.Candidates) == 0 {
		return fmt.Errorf("snapshot has no candidates")
	}
	if s.CollectedAt.IsZero() {
		return fmt.Errorf("snapshot has no collection timestamp")
	}
	if s.Correlations != nil {
		if n := s.Correlations.SymmetricDim(); n != len(s.Candidates) {
			return fmt.Errorf("correlation matrix is %dx%d but snapshot has %d candidates",
				n, n, len(s.Candidates))
		}
	}
	return nil
}

// AgeMinutes returns the snapshot age at the given instant.
func (s *Snapshot) AgeMinutes(now time.Time) float64 {
	if s.CollectedAt.IsZero() {
		return math.Inf(1)
	}
	age := now.Sub(s.CollectedAt).Minutes()
	if age < 0 {
		return 0
	}
	return age
}

// Freshness maps snapshot age to a 0-100 data quality figure:
// max(100 - ageMinutes*decayRate, floor).
func (s *Snapshot) Freshness(now time.Time, decayRate, floor float64) float64 {
	if decayRate <= 0 {
		decayRate = DefaultDecayRatePerMinute
	}
	if floor <= 0 {
		floor = DefaultFreshnessFloor
	}
	f := 100 - s.AgeMinutes(now)*decayRate
	if f < floor {
		return floor
	}
	return f
}

// Correlation returns the pairwise correlation between candidates i and j,
// or 0 when no matrix was supplied (partial data is tolerated).
func (s *Snapshot) Correlation(i, j int) float64 {
	if s.Correlations == nil {
		return 0
	}
	n := s.Correlations.SymmetricDim()
	if i < 0 || j < 0 || i >= n || j >= n {
		return 0
	}
	return s.Correlations.At(i, j)
}
