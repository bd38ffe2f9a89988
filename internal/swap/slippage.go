package swap

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Prosniperv2/V2.0/internal/money"
)

const (
	// SlippageBuffer is added to the requested tolerance for thin new pools
	SlippageBuffer = 5.0
	// MaxSlippage caps the effective tolerance
	MaxSlippage = 25.0
)

// EffectiveSlippage returns min(tolerance + buffer, cap) in percent
func EffectiveSlippage(tolerance float64) float64 {
	if tolerance < 0 || math.IsNaN(tolerance) {
		tolerance = 0
	}
	return math.Min(tolerance+SlippageBuffer, MaxSlippage)
}

// MinAmountOut returns floor(quoted * (100 - effective) / 100) for the given
// tolerance, never below 1.
func MinAmountOut(quoted *big.Int, tolerance float64) *big.Int {
	keep := decimal.NewFromFloat(100 - EffectiveSlippage(tolerance)).Div(decimal.NewFromInt(100))
	out := money.MulFloor(quoted, keep)
	if out.Sign() <= 0 {
		return big.NewInt(1)
	}
	return out
}
