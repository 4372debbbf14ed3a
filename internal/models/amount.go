package models

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimals of both ether (wei) and LINK (juels).
const TokenDecimals = 18

// ParseUnits converts a decimal token amount such as "0.01" to its smallest unit.
func ParseUnits(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}
	scaled := d.Shift(TokenDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, TokenDecimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders an amount in smallest units as a decimal token amount.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -TokenDecimals).String()
}

// ParseWei parses an integer amount in smallest units.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse wei %q: not an integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse wei %q: %w", s, ErrInvalidAmount)
	}
	return v, nil
}
