package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("340282366920938463463374607431768211456") // 2^128
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211456", a.String())

	_, err = ParseAmount("-1")
	assert.Error(t, err, "negative amounts are rejected")

	_, err = ParseAmount("12.5")
	assert.Error(t, err, "fractional amounts are rejected")

	_, err = ParseAmount("")
	assert.Error(t, err)
}

func TestAmount_JSONUsesQuotedString(t *testing.T) {
	// Above 2^53; a float JSON number would corrupt this value.
	a := NewAmount(new(big.Int).SetUint64(9_007_199_254_740_993))

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"9007199254740993"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, a.Cmp(back.Int))

	var zero Amount
	data, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, `"0"`, string(data), "unset amount marshals as zero")
}

func TestAmount_Clone_IsIndependent(t *testing.T) {
	a := NewAmountFromUint64(100)
	b := a.Clone()
	b.Add(b.Int, big.NewInt(1))
	assert.Equal(t, "100", a.String())
	assert.Equal(t, "101", b.String())
}

func TestAmount_USDValue(t *testing.T) {
	a, err := ParseAmount("1500000") // 1.5 USDC at 6 decimals
	require.NoError(t, err)

	v := a.USDValue(6, decimal.NewFromInt(1))
	assert.True(t, v.Equal(decimal.RequireFromString("1.5")), "got %s", v)

	v = a.USDValue(6, decimal.RequireFromString("0.9987"))
	assert.True(t, v.Equal(decimal.RequireFromString("1.49805")), "got %s", v)

	assert.True(t, Amount{}.USDValue(6, decimal.NewFromInt(1)).IsZero())
}
