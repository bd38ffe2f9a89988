package strategy

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Prosniperv2/V2.0/internal/money"
)

// Sizer computes trade sizes from the WETH balance and the current streak
type Sizer struct {
	// SizePercent of the balance is the base trade (default 20)
	SizePercent float64
	// MaxPercent of the balance caps any trade (default 35)
	MaxPercent float64
	// StreakStep scales the base per consecutive win or loss (default 0.15)
	StreakStep    float64
	MinMultiplier float64 // default 0.5
	MaxMultiplier float64 // default 1.5
	// Floor is the smallest trade in wei
	Floor *big.Int
}

func (s Sizer) withDefaults() Sizer {
	if s.SizePercent <= 0 {
		s.SizePercent = 20
	}
	if s.MaxPercent <= 0 {
		s.MaxPercent = 35
	}
	if s.StreakStep <= 0 {
		s.StreakStep = 0.15
	}
	if s.MinMultiplier <= 0 {
		s.MinMultiplier = 0.5
	}
	if s.MaxMultiplier <= 0 {
		s.MaxMultiplier = 1.5
	}
	if s.Floor == nil {
		s.Floor = new(big.Int)
	}
	return s
}

// Multiplier returns the streak scaling. Streaks shorter than two trades
// leave the size unchanged.
func (s Sizer) Multiplier(wins, losses int) float64 {
	f, _ := s.withDefaults().multiplier(wins, losses).Float64()
	return f
}

func (s Sizer) multiplier(wins, losses int) decimal.Decimal {
	one := decimal.NewFromInt(1)
	step := decimal.NewFromFloat(s.StreakStep)
	switch {
	case wins >= 2:
		return decimal.Min(decimal.NewFromFloat(s.MaxMultiplier), one.Add(step.Mul(decimal.NewFromInt(int64(wins)))))
	case losses >= 2:
		return decimal.Max(decimal.NewFromFloat(s.MinMultiplier), one.Sub(step.Mul(decimal.NewFromInt(int64(losses)))))
	default:
		return one
	}
}

// Size returns the trade amount for balance: the scaled base share, capped at
// MaxPercent of the balance and never below Floor
func (s Sizer) Size(balance *big.Int, wins, losses int) *big.Int {
	s = s.withDefaults()
	if balance == nil || balance.Sign() <= 0 {
		return new(big.Int).Set(s.Floor)
	}

	base := decimal.NewFromFloat(s.SizePercent).Div(decimal.NewFromInt(100))
	scaled := money.MulFloor(balance, base.Mul(s.multiplier(wins, losses)))
	ceiling := money.MulFloor(balance, decimal.NewFromFloat(s.MaxPercent).Div(decimal.NewFromInt(100)))

	return new(big.Int).Set(money.Max(money.Min(scaled, ceiling), s.Floor))
}
