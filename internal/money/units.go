// Package money converts between on-chain integer amounts (wei, token base
// units) and human decimal amounts. Arithmetic that must not lose precision
// stays on *big.Int; decimal.Decimal is used at parse and display boundaries.
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// EtherDecimals is the decimals of ETH and WETH
	EtherDecimals int32 = 18
	// GweiDecimals is the wei exponent of one gwei
	GweiDecimals int32 = 9
)

// ParseUnits converts a decimal string into base units, truncating digits
// beyond decimals. Negative amounts are rejected.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// ParseEther converts an ether amount such as "0.000398" into wei
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

// MustParseEther is ParseEther for compile-time constants
func MustParseEther(amount string) *big.Int {
	wei, err := ParseEther(amount)
	if err != nil {
		panic(err)
	}
	return wei
}

// FormatUnits renders base units as a decimal string
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// FormatEther renders wei as ether
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

// Gwei converts a gwei count into wei
func Gwei(gwei int64) *big.Int {
	return decimal.NewFromInt(gwei).Shift(GweiDecimals).BigInt()
}

// ToGwei converts wei into gwei for display and metrics
func ToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -GweiDecimals).Float64()
	return f
}

// MulFloor returns floor(amount * factor) for a non-negative amount
func MulFloor(amount *big.Int, factor decimal.Decimal) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(factor).Floor().BigInt()
}

// PercentChange returns (to - from) / from * 100. A zero base yields zero.
func PercentChange(from, to *big.Int) decimal.Decimal {
	if from == nil || to == nil || from.Sign() == 0 {
		return decimal.Zero
	}
	f := decimal.NewFromBigInt(from, 0)
	return decimal.NewFromBigInt(to, 0).Sub(f).Div(f).Mul(decimal.NewFromInt(100))
}

// Min returns the smaller of a and b
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
