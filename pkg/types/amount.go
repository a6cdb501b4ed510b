package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is an on-chain token amount in the token's smallest unit.
// It wraps big.Int so JSON round-trips through a decimal string instead
// of a float, which would silently lose precision above 2^53.
type Amount struct {
	*big.Int
}

// NewAmount returns an Amount holding the given value.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{new(big.Int).Set(v)}
}

// NewAmountFromUint64 returns an Amount holding v.
func NewAmountFromUint64(v uint64) Amount {
	return Amount{new(big.Int).SetUint64(v)}
}

// ParseAmount parses a base-10 integer string into an Amount.
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount: %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount must not be negative: %q", s)
	}
	return Amount{v}, nil
}

// IsZero reports whether the amount is unset or zero.
func (a Amount) IsZero() bool {
	return a.Int == nil || a.Int.Sign() == 0
}

// Clone returns an independent copy.
func (a Amount) Clone() Amount {
	if a.Int == nil {
		return Amount{new(big.Int)}
	}
	return Amount{new(big.Int).Set(a.Int)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + a.Int.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid amount: %q", s)
	}
	a.Int = v
	return nil
}

// USDValue converts the amount to a USD figure given the token's decimals
// and unit price. Used for reporting only, never for on-chain math.
func (a Amount) USDValue(decimals int, priceUSD decimal.Decimal) decimal.Decimal {
	if a.Int == nil {
		return decimal.Zero
	}
	units := decimal.NewFromBigInt(a.Int, int32(-decimals))
	return units.Mul(priceUSD)
}
