// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseBigInt parses a base-10 integer string in smallest units.
// An empty string parses as zero.
func ParseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return v, nil
}

// MustBigInt parses s or returns zero. Only for values already validated.
func MustBigInt(s string) *big.Int {
	v, err := ParseBigInt(s)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// SaturatingSub returns max(a-b, 0) without modifying its arguments.
func SaturatingSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}

// MulRatio multiplies an integer amount by a decimal ratio and truncates the
// result back to an integer. MulRatio(50, 2.0) == 100.
func MulRatio(amount *big.Int, ratio decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(amount, 0).Mul(ratio).Truncate(0).BigInt()
}

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount(big.NewInt(100000000), 8) returns "1".
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseAmount parses a human decimal string into smallest units.
// For example, ParseAmount("1.5", 18) returns 1500000000000000000.
// Extra fractional digits beyond decimals are truncated.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}
