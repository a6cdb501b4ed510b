package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldroute/pkg/types"
)

func TestSnapshot_Freshness(t *testing.T) {
	collected := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{CollectedAt: collected}

	tests := []struct {
		name string
		now  time.Time
		want float64
	}{
		{"brand new", collected, 100},
		{"ten minutes old", collected.Add(10 * time.Minute), 80},
		{"decays to floor", collected.Add(2 * time.Hour), DefaultFreshnessFloor},
		{"clock skew reads as fresh", collected.Add(-5 * time.Minute), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snap.Freshness(tt.now, DefaultDecayRatePerMinute, DefaultFreshnessFloor)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSnapshot_PriceOf_FallsBackToUnitPrice(t *testing.T) {
	snap := &Snapshot{Prices: map[string]TokenPrice{}}
	p := snap.PriceOf("USDC")
	assert.True(t, p.PriceUSD.IsPositive())
	assert.Equal(t, 0, p.Decimals)
}

func TestSnapshot_Validate(t *testing.T) {
	now := time.Now()

	assert.Error(t, (&Snapshot{CollectedAt: now}).Validate(), "no candidates")
	assert.Error(t, (&Snapshot{
		Candidates: []types.TokenCandidate{{Token: "stETH"}},
	}).Validate(), "no timestamp")
	assert.NoError(t, (&Snapshot{
		Candidates:  []types.TokenCandidate{{Token: "stETH"}},
		CollectedAt: now,
	}).Validate())
}

func TestFileProvider_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"candidates": [
			{"token": "stETH", "chain": "ethereum", "protocol": "lido", "expected_yield": 4.2, "risk_score": 3, "liquidity_usd": 30000000},
			{"token": "aUSDC", "chain": "polygon", "protocol": "aave", "expected_yield": 5.1, "risk_score": 4, "liquidity_usd": 12000000}
		],
		"prices": {"USDC": {"price_usd": "1", "decimals": 6}},
		"correlations": [[1.0, 0.3], [0.3, 1.0]],
		"collected_at": "2026-08-01T12:00:00Z"
	}`), 0600))

	snap, err := NewFileProvider(path).Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Candidates, 2)
	assert.Equal(t, "stETH", snap.Candidates[0].Token)
	assert.Equal(t, types.ChainPolygon, snap.Candidates[1].Chain)
	assert.Equal(t, 6, snap.PriceOf("USDC").Decimals)
	assert.InDelta(t, 0.3, snap.Correlation(0, 1), 1e-9)
	assert.InDelta(t, 1.0, snap.Correlation(1, 1), 1e-9)
	assert.Equal(t, 0.0, snap.Correlation(0, 5), "out of range index reads as uncorrelated")
}

func TestFileProvider_Snapshot_RejectsRaggedCorrelations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"candidates": [
			{"token": "stETH", "chain": "ethereum", "protocol": "lido"},
			{"token": "aUSDC", "chain": "polygon", "protocol": "aave"}
		],
		"correlations": [[1.0, 0.3], [0.3]],
		"collected_at": "2026-08-01T12:00:00Z"
	}`), 0600))

	_, err := NewFileProvider(path).Snapshot(context.Background())
	assert.ErrorContains(t, err, "correlation row")
}

func TestFileProvider_Snapshot_MissingFile(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "nope.json")).Snapshot(context.Background())
	assert.Error(t, err)
}
