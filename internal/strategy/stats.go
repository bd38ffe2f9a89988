package strategy

import (
	"math/big"
	"sync"
	"time"
)

// Stats summarizes trading performance
type Stats struct {
	Buys              int       `json:"buys"`
	FailedBuys        int       `json:"failed_buys"`
	ClosedTrades      int       `json:"closed_trades"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	WinRate           float64   `json:"win_rate"`
	AverageProfit     float64   `json:"average_profit_percent"`
	RealizedWei       *big.Int  `json:"realized_wei"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ActivePositions   int       `json:"active_positions"`
	PausedUntil       time.Time `json:"paused_until,omitempty"`
}

// Tracker records trade outcomes and pauses buying after a losing streak
type Tracker struct {
	pauseAfter int
	pauseFor   time.Duration

	mu          sync.Mutex
	buys        int
	failedBuys  int
	closed      int
	wins        int
	losses      int
	pnlSum      float64
	realized    *big.Int
	streakWins  int
	streakLoss  int
	pausedUntil time.Time
}

// NewTracker creates a tracker that pauses for pauseFor after pauseAfter
// consecutive losses
func NewTracker(pauseAfter int, pauseFor time.Duration) *Tracker {
	if pauseAfter <= 0 {
		pauseAfter = 3
	}
	if pauseFor <= 0 {
		pauseFor = 5 * time.Minute
	}
	return &Tracker{pauseAfter: pauseAfter, pauseFor: pauseFor, realized: new(big.Int)}
}

// RecordBuy counts a buy attempt
func (t *Tracker) RecordBuy(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.buys++
	} else {
		t.failedBuys++
	}
}

// RecordClose counts a closed position. It reports whether the close started
// a pause; the loss streak restarts when it does.
func (t *Tracker) RecordClose(pnlPercent float64, profit *big.Int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed++
	t.pnlSum += pnlPercent
	if profit != nil {
		t.realized.Add(t.realized, profit)
	}

	if pnlPercent > 0 {
		t.wins++
		t.streakWins++
		t.streakLoss = 0
		return false
	}

	t.losses++
	t.streakLoss++
	t.streakWins = 0
	if t.streakLoss < t.pauseAfter {
		return false
	}
	t.pausedUntil = now.Add(t.pauseFor)
	t.streakLoss = 0
	return true
}

// PausedUntil returns the end of the current pause, or false when buying is allowed
func (t *Tracker) PausedUntil(now time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.pausedUntil) {
		return t.pausedUntil, true
	}
	return time.Time{}, false
}

// Streak returns the current consecutive wins and losses
func (t *Tracker) Streak() (wins, losses int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streakWins, t.streakLoss
}

// Snapshot returns the current counters
func (t *Tracker) Snapshot(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Buys:              t.buys,
		FailedBuys:        t.failedBuys,
		ClosedTrades:      t.closed,
		Wins:              t.wins,
		Losses:            t.losses,
		RealizedWei:       new(big.Int).Set(t.realized),
		ConsecutiveWins:   t.streakWins,
		ConsecutiveLosses: t.streakLoss,
	}
	if t.closed > 0 {
		s.WinRate = float64(t.wins) / float64(t.closed) * 100
		s.AverageProfit = t.pnlSum / float64(t.closed)
	}
	if now.Before(t.pausedUntil) {
		s.PausedUntil = t.pausedUntil
	}
	return s
}
