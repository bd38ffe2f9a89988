package strategy

import (
	"math/big"
	"time"

	"github.com/Prosniperv2/V2.0/internal/money"
)

// ExitReason names why a position is sold
type ExitReason string

const (
	ExitNone        ExitReason = ""
	ExitQuickProfit ExitReason = "quick_profit"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitStopLoss    ExitReason = "stop_loss"
	ExitMaxHold     ExitReason = "max_hold"
	ExitStale       ExitReason = "stale"
)

// ExitRules holds the sell triggers. Percentages are of the WETH spent.
type ExitRules struct {
	QuickProfitPercent float64       // default 10
	QuickProfitAfter   time.Duration // default 60s
	TakeProfitPercent  float64       // default 30
	StopLossPercent    float64       // default 15
	MaxHold            time.Duration // default 300s
}

func (r ExitRules) withDefaults() ExitRules {
	if r.QuickProfitPercent <= 0 {
		r.QuickProfitPercent = 10
	}
	if r.QuickProfitAfter <= 0 {
		r.QuickProfitAfter = 60 * time.Second
	}
	if r.TakeProfitPercent <= 0 {
		r.TakeProfitPercent = 30
	}
	if r.StopLossPercent <= 0 {
		r.StopLossPercent = 15
	}
	if r.MaxHold <= 0 {
		r.MaxHold = 300 * time.Second
	}
	return r
}

// Evaluate returns the exit reason for p given value, the WETH a sale would
// return now, and the profit in percent. A nil value means the position could
// not be priced and only the hold limit applies.
func (r ExitRules) Evaluate(p Position, value *big.Int, now time.Time) (ExitReason, float64) {
	r = r.withDefaults()
	age := p.Age(now)

	if value == nil {
		if age >= r.MaxHold {
			return ExitMaxHold, 0
		}
		return ExitNone, 0
	}

	pnl, _ := money.PercentChange(p.Spent, value).Float64()
	switch {
	case pnl >= r.TakeProfitPercent:
		return ExitTakeProfit, pnl
	case pnl <= -r.StopLossPercent:
		return ExitStopLoss, pnl
	case age >= r.QuickProfitAfter && pnl >= r.QuickProfitPercent:
		return ExitQuickProfit, pnl
	case age >= r.MaxHold:
		return ExitMaxHold, pnl
	}
	return ExitNone, pnl
}
