package strategy

import (
	"math"
	"time"

	"github.com/Prosniperv2/V2.0/internal/discovery"
)

// Rejection reasons reported in decisions
const (
	ReasonPaused        = "paused after loss streak"
	ReasonMaxPositions  = "max positions reached"
	ReasonAlreadyHeld   = "position already open"
	ReasonLowScore      = "score below threshold"
	ReasonLowBalance    = "insufficient WETH balance"
	ReasonNoRoute       = "no route"
	ReasonDryRun        = "real trading disabled"
	ReasonSwapFailed    = "buy failed"
	ReasonScoreFailed   = "scoring failed"
	ReasonBalanceFailed = "balance read failed"
)

// Decision is the outcome of evaluating a candidate
type Decision struct {
	Buy    bool    `json:"buy"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
	// TxHash is set once the buy was sent
	TxHash string `json:"tx_hash,omitempty"`
}

// Thresholds holds the buy rules
type Thresholds struct {
	MinScore          float64       // default 10
	HighPriorityBonus float64       // default 15
	MaxTokenAge       time.Duration // default 30m
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinScore <= 0 {
		t.MinScore = 10
	}
	if t.HighPriorityBonus <= 0 {
		t.HighPriorityBonus = 15
	}
	if t.MaxTokenAge <= 0 {
		t.MaxTokenAge = 30 * time.Minute
	}
	return t
}

// FinalScore applies the priority bonus and caps the result at MaxScore
func (t Thresholds) FinalScore(c discovery.Candidate, raw float64) float64 {
	t = t.withDefaults()
	if c.Priority == discovery.PriorityHigh {
		raw += t.HighPriorityBonus
	}
	return math.Min(raw, MaxScore)
}

// Evaluate decides on a scored candidate. Tokens younger than MaxTokenAge are
// bought whatever their score.
func (t Thresholds) Evaluate(c discovery.Candidate, raw float64, now time.Time) Decision {
	t = t.withDefaults()
	score := t.FinalScore(c, raw)
	if score >= t.MinScore {
		return Decision{Buy: true, Score: score}
	}
	if c.DiscoveredAt.IsZero() || now.Sub(c.DiscoveredAt) <= t.MaxTokenAge {
		return Decision{Buy: true, Score: score, Reason: "new token"}
	}
	return Decision{Score: score, Reason: ReasonLowScore}
}
