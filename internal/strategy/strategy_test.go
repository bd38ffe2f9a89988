package strategy

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/discovery"
	"github.com/Prosniperv2/V2.0/internal/money"
)

var (
	weth   = common.HexToAddress("0x4200000000000000000000000000000000000006")
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestSizer_Size(t *testing.T) {
	oneEth := money.MustParseEther("1")

	tests := []struct {
		name         string
		sizer        Sizer
		balance      *big.Int
		wins, losses int
		want         string
	}{
		{"base share", Sizer{}, oneEth, 0, 0, "0.2"},
		{"single win ignored", Sizer{}, oneEth, 1, 0, "0.2"},
		{"win streak", Sizer{}, oneEth, 2, 0, "0.26"},
		{"win streak capped", Sizer{}, oneEth, 5, 0, "0.3"},
		{"loss streak floored", Sizer{}, oneEth, 0, 4, "0.1"},
		{"max percent", Sizer{MaxPercent: 25}, oneEth, 5, 0, "0.25"},
		{"minimum trade", Sizer{Floor: money.MustParseEther("0.0005")}, money.MustParseEther("0.001"), 0, 0, "0.0005"},
		{"empty balance", Sizer{Floor: money.MustParseEther("0.0005")}, new(big.Int), 0, 0, "0.0005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sizer.Size(tt.balance, tt.wins, tt.losses)
			if want := money.MustParseEther(tt.want); got.Cmp(want) != 0 {
				t.Errorf("Size = %s, want %s", money.FormatEther(got), tt.want)
			}
		})
	}
}

func TestSizer_Multiplier(t *testing.T) {
	s := Sizer{}
	if m := s.Multiplier(0, 0); m != 1 {
		t.Errorf("neutral multiplier = %v", m)
	}
	if m := s.Multiplier(10, 0); m != 1.5 {
		t.Errorf("win multiplier = %v, want 1.5", m)
	}
	if m := s.Multiplier(0, 10); m != 0.5 {
		t.Errorf("loss multiplier = %v, want 0.5", m)
	}
}

func TestThresholds_Evaluate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		priority  discovery.Priority
		raw       float64
		age       time.Duration
		wantBuy   bool
		wantScore float64
	}{
		{"above threshold", discovery.PriorityMedium, 12, time.Hour, true, 12},
		{"priority bonus", discovery.PriorityHigh, 0, time.Hour, true, 15},
		{"capped", discovery.PriorityHigh, 95, time.Hour, true, 100},
		{"low score old token", discovery.PriorityMedium, 5, time.Hour, false, 5},
		{"low score new token", discovery.PriorityMedium, 5, 10 * time.Minute, true, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := discovery.Candidate{Token: tokenA, Priority: tt.priority, DiscoveredAt: now.Add(-tt.age)}
			d := Thresholds{}.Evaluate(c, tt.raw, now)
			if d.Buy != tt.wantBuy || d.Score != tt.wantScore {
				t.Errorf("Evaluate = %+v, want buy=%v score=%v", d, tt.wantBuy, tt.wantScore)
			}
			if !d.Buy && d.Reason != ReasonLowScore {
				t.Errorf("unexpected reason %q", d.Reason)
			}
		})
	}
}

func TestExitRules_Evaluate(t *testing.T) {
	opened := time.Unix(1_700_000_000, 0)
	pos := Position{Token: tokenA, Spent: big.NewInt(1000), OpenedAt: opened}

	tests := []struct {
		name    string
		value   *big.Int
		held    time.Duration
		want    ExitReason
		wantPnL float64
	}{
		{"take profit", big.NewInt(1350), 10 * time.Second, ExitTakeProfit, 35},
		{"stop loss", big.NewInt(800), 10 * time.Second, ExitStopLoss, -20},
		{"stop loss boundary", big.NewInt(850), 10 * time.Second, ExitStopLoss, -15},
		{"quick profit too early", big.NewInt(1150), 30 * time.Second, ExitNone, 15},
		{"quick profit", big.NewInt(1150), 61 * time.Second, ExitQuickProfit, 15},
		{"max hold", big.NewInt(1050), 300 * time.Second, ExitMaxHold, 5},
		{"unpriced", nil, 100 * time.Second, ExitNone, 0},
		{"unpriced max hold", nil, 300 * time.Second, ExitMaxHold, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, pnl := ExitRules{}.Evaluate(pos, tt.value, opened.Add(tt.held))
			if reason != tt.want || pnl != tt.wantPnL {
				t.Errorf("Evaluate = (%q, %v), want (%q, %v)", reason, pnl, tt.want, tt.wantPnL)
			}
		})
	}
}

func TestBook_Slots(t *testing.T) {
	b := NewBook(2)

	if err := b.Reserve(tokenA); err != nil {
		t.Fatalf("Reserve A: %v", err)
	}
	if err := b.Reserve(tokenA); !errors.Is(err, ErrTokenHeld) {
		t.Errorf("expected ErrTokenHeld, got %v", err)
	}
	if err := b.Reserve(tokenB); err != nil {
		t.Fatalf("Reserve B: %v", err)
	}
	if err := b.Reserve(tokenC); !errors.Is(err, ErrBookFull) {
		t.Errorf("expected ErrBookFull, got %v", err)
	}

	b.Release(tokenB)
	if err := b.Reserve(tokenC); err != nil {
		t.Fatalf("Reserve C after release: %v", err)
	}

	pos := b.Open(Position{Token: tokenA, Spent: big.NewInt(1)})
	if pos == nil || pos.ID == "" {
		t.Fatalf("expected opened position with id, got %+v", pos)
	}
	if err := b.Reserve(tokenA); !errors.Is(err, ErrTokenHeld) {
		t.Errorf("open position must block reservations, got %v", err)
	}

	if _, ok := b.Close(tokenA); !ok {
		t.Fatal("Close reported no position")
	}
	if err := b.Reserve(tokenB); err != nil {
		t.Errorf("closing must free a slot: %v", err)
	}
}

func TestBook_Stale(t *testing.T) {
	b := NewBook(4)
	now := time.Unix(1_700_000_000, 0)

	b.Open(Position{Token: tokenA, OpenedAt: now.Add(-11 * time.Minute)})
	b.Open(Position{Token: tokenB, OpenedAt: now.Add(-time.Minute)})

	stale := b.Stale(now, 600*time.Second)
	if len(stale) != 1 || stale[0].Token != tokenA {
		t.Fatalf("expected token A to be stale, got %+v", stale)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 remaining position, got %d", b.Len())
	}
}

func TestTracker_LossStreakPause(t *testing.T) {
	tr := NewTracker(3, 5*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if tr.RecordClose(-20, big.NewInt(-10), now) {
			t.Fatalf("paused after %d losses", i+1)
		}
	}
	if _, paused := tr.PausedUntil(now); paused {
		t.Fatal("paused too early")
	}

	if !tr.RecordClose(-20, big.NewInt(-10), now) {
		t.Fatal("expected pause after third loss")
	}
	until, paused := tr.PausedUntil(now.Add(time.Minute))
	if !paused || !until.Equal(now.Add(5*time.Minute)) {
		t.Errorf("PausedUntil = %v, %v", until, paused)
	}
	if _, paused := tr.PausedUntil(now.Add(5 * time.Minute)); paused {
		t.Error("pause must end after the pause duration")
	}
	if _, losses := tr.Streak(); losses != 0 {
		t.Errorf("loss streak must restart after a pause, got %d", losses)
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker(3, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	tr.RecordBuy(true)
	tr.RecordBuy(true)
	tr.RecordBuy(false)
	tr.RecordClose(30, big.NewInt(300), now)
	tr.RecordClose(-10, big.NewInt(-100), now)

	s := tr.Snapshot(now)
	if s.Buys != 2 || s.FailedBuys != 1 || s.ClosedTrades != 2 {
		t.Errorf("unexpected counters %+v", s)
	}
	if s.WinRate != 50 || s.AverageProfit != 10 {
		t.Errorf("win rate %v, average %v", s.WinRate, s.AverageProfit)
	}
	if s.RealizedWei.Int64() != 200 {
		t.Errorf("realized = %s, want 200", s.RealizedWei)
	}
	if s.ConsecutiveLosses != 1 || s.ConsecutiveWins != 0 {
		t.Errorf("unexpected streak %+v", s)
	}
}
