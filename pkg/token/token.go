package token

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human decimal token amount ("1.5") to integer
// base units at the given number of decimals. Amounts with more fractional
// digits than the asset carries are rejected rather than silently rounded.
func ToBaseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount: negative")
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount: more than %d decimal places", decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits renders integer base units as a human decimal string.
func FromBaseUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount, -decimals).String()
}
