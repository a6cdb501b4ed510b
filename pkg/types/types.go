package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Chain identifies a blockchain network.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainSolana   Chain = "solana"
)

// TimeHorizon is the investment horizon supplied with a request.
type TimeHorizon string

const (
	HorizonShort  TimeHorizon = "SHORT"
	HorizonMedium TimeHorizon = "MEDIUM"
	HorizonLong   TimeHorizon = "LONG"
)

// Multiplier returns the horizon factor used when scoring candidates.
func (h TimeHorizon) Multiplier() float64 {
	switch h {
	case HorizonShort:
		return 0.8
	case HorizonLong:
		return 1.2
	default:
		return 1.0
	}
}

// AllocationRequest describes a deposit to be spread across yield tokens.
// Amounts are integers in the source token's smallest unit.
type AllocationRequest struct {
	SourceToken    string      `json:"source_token"`
	SourceChain    Chain       `json:"source_chain"`
	TotalAmount    Amount      `json:"total_amount"`
	RiskTolerance  int         `json:"risk_tolerance"`  // 1 (conservative) .. 10 (aggressive)
	TimeHorizon    TimeHorizon `json:"time_horizon"`
	MaxSlippageBps int         `json:"max_slippage_bps"`
	MaxGasBudget   Amount      `json:"max_gas_budget"`
	MinimumYield   float64     `json:"minimum_yield"` // APY floor, percent
	Preferred      []string    `json:"preferred,omitempty"`
	Excluded       []string    `json:"excluded,omitempty"`
}

// Validate checks the request parameters before any allocation work.
func (r *AllocationRequest) Validate() error {
	if r.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if r.SourceChain == "" {
		return fmt.Errorf("source chain is required")
	}
	if r.TotalAmount.IsZero() {
		return fmt.Errorf("total amount must be greater than 0")
	}
	if r.RiskTolerance < 1 || r.RiskTolerance > 10 {
		return fmt.Errorf("risk tolerance must be between 1 and 10, got %d", r.RiskTolerance)
	}
	switch r.TimeHorizon {
	case HorizonShort, HorizonMedium, HorizonLong:
	default:
		return fmt.Errorf("time horizon must be SHORT, MEDIUM or LONG, got %q", r.TimeHorizon)
	}
	if r.MaxSlippageBps < 0 {
		return fmt.Errorf("max slippage must not be negative")
	}
	if r.MinimumYield < 0 {
		return fmt.Errorf("minimum yield must not be negative")
	}
	return nil
}

// IsExcluded reports whether a token is on the request's exclusion list.
func (r *AllocationRequest) IsExcluded(token string) bool {
	return containsFold(r.Excluded, token)
}

// IsPreferred reports whether a token is on the request's preference list.
// An empty preference list prefers everything.
func (r *AllocationRequest) IsPreferred(token string) bool {
	if len(r.Preferred) == 0 {
		return true
	}
	return containsFold(r.Preferred, token)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// TokenCandidate is one yield-bearing token in the investable universe.
// All figures come from the market data provider; nothing here is
// originated locally.
type TokenCandidate struct {
	Token         string          `json:"token"`
	Chain         Chain           `json:"chain"`
	Protocol      string          `json:"protocol"`
	ExpectedYield float64         `json:"expected_yield"` // APY, percent
	RiskScore     float64         `json:"risk_score"`     // 1 (safe) .. 10 (risky)
	LiquidityUSD  float64         `json:"liquidity_usd"`
	Volatility    float64         `json:"volatility"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	Decimals      int             `json:"decimals"`
}

// WalletContext identifies the custody wallet a deposit runs under and
// its per-chain addresses. Key material stays with the custody provider.
type WalletContext struct {
	WalletID  string           `json:"wallet_id"`
	Addresses map[Chain]string `json:"addresses"`
}

// AddressOn returns the wallet's address on the given chain.
func (w *WalletContext) AddressOn(chain Chain) (string, error) {
	addr, ok := w.Addresses[chain]
	if !ok || addr == "" {
		return "", fmt.Errorf("wallet %s has no address on chain %s", w.WalletID, chain)
	}
	return addr, nil
}
