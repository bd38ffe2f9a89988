package strategy

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/dex"
	"github.com/Prosniperv2/V2.0/internal/discovery"
	"github.com/Prosniperv2/V2.0/internal/money"
	"github.com/Prosniperv2/V2.0/internal/swap"
)

var (
	uniRouter  = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
	aeroRouter = common.HexToAddress("0xcF77a3Ba9A5CA399B7c97c74d54e5b1Beb874E43")
)

type fakePrices struct {
	mu        sync.Mutex
	buyRouter common.Address
	sellValue *big.Int
	fallback  bool
	requests  []dex.Direction
}

func (f *fakePrices) GetBestPrice(_ context.Context, token common.Address, amountIn *big.Int, dir dex.Direction) dex.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, dir)

	if dir == dex.Buy {
		if f.buyRouter == (common.Address{}) {
			return dex.Quote{AmountOut: big.NewInt(0)}
		}
		return dex.Quote{DEX: "uniswap_v3", AmountOut: big.NewInt(1000), Router: f.buyRouter, Path: []common.Address{weth, token}}
	}
	if f.fallback {
		return dex.Quote{DEX: "uniswap_v3", AmountOut: new(big.Int).Set(amountIn), Router: uniRouter, Path: []common.Address{token, weth}, Fallback: true}
	}
	return dex.Quote{DEX: "aerodrome", AmountOut: new(big.Int).Set(f.sellValue), Router: aeroRouter, Path: []common.Address{token, weth}}
}

type fakeExecutor struct {
	mu       sync.Mutex
	fail     bool
	requests []swap.SwapRequest
}

func (f *fakeExecutor) ExecuteSwap(_ context.Context, req swap.SwapRequest) (common.Hash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail {
		return common.Hash{}, false
	}
	return common.BigToHash(big.NewInt(int64(len(f.requests)))), true
}

func (f *fakeExecutor) last() swap.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeBalances struct {
	weth    *big.Int
	tokens  map[common.Address]*big.Int
	wethErr error
}

func (f *fakeBalances) WETHBalance(context.Context) (*big.Int, error) {
	if f.wethErr != nil {
		return nil, f.wethErr
	}
	return new(big.Int).Set(f.weth), nil
}

func (f *fakeBalances) FreshTokenBalance(_ context.Context, token common.Address) (*big.Int, error) {
	if b, ok := f.tokens[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

type harness struct {
	sniper   *Sniper
	prices   *fakePrices
	executor *fakeExecutor
	balances *fakeBalances
	clock    time.Time
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		prices:   &fakePrices{buyRouter: uniRouter, sellValue: money.MustParseEther("0.2")},
		executor: &fakeExecutor{},
		balances: &fakeBalances{
			weth:   money.MustParseEther("1"),
			tokens: map[common.Address]*big.Int{tokenA: big.NewInt(5000), tokenB: big.NewInt(5000), tokenC: big.NewInt(5000)},
		},
		clock: time.Unix(1_700_000_000, 0),
	}

	cfg := Config{
		Scorer:      ScorerFunc(func(context.Context, discovery.Candidate) (float64, error) { return 50, nil }),
		Prices:      h.prices,
		Executor:    h.executor,
		Balances:    h.balances,
		RealTrading: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return h.clock }
	h.sniper = s
	return h
}

func (h *harness) candidate(token common.Address) discovery.Candidate {
	return discovery.Candidate{Token: token, Symbol: "TEST", Priority: discovery.PriorityHigh, DiscoveredAt: h.clock}
}

func TestSniper_BuysAcceptedCandidate(t *testing.T) {
	h := newHarness(t, nil)

	d := h.sniper.Consider(context.Background(), h.candidate(tokenA))
	if !d.Buy || d.TxHash == "" {
		t.Fatalf("expected executed buy, got %+v", d)
	}
	if d.Score != 65 {
		t.Errorf("score = %v, want 65 with priority bonus", d.Score)
	}

	req := h.executor.last()
	if req.Direction != dex.Buy || req.Router != uniRouter || req.Token != tokenA {
		t.Errorf("unexpected buy request %+v", req)
	}
	if req.AmountIn.Cmp(money.MustParseEther("0.2")) != 0 {
		t.Errorf("amount = %s, want 0.2 WETH", money.FormatEther(req.AmountIn))
	}
	if len(req.Path) != 2 || req.Path[0] != weth {
		t.Errorf("quoted path not forwarded: %v", req.Path)
	}

	st := h.sniper.Status()
	if st.Stats.ActivePositions != 1 || st.Stats.Buys != 1 || len(st.Positions) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if p := st.Positions[0]; p.Spent.Cmp(req.AmountIn) != 0 || p.ID == "" || p.DEX != "uniswap_v3" {
		t.Errorf("unexpected position %+v", p)
	}
}

func TestSniper_DryRunSkipsBuy(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RealTrading = false })

	d := h.sniper.Consider(context.Background(), h.candidate(tokenA))
	if !d.Buy || d.Reason != ReasonDryRun || d.TxHash != "" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if h.executor.count() != 0 {
		t.Error("dry run must not send swaps")
	}
	if h.sniper.book.Len() != 0 {
		t.Error("dry run must not open positions")
	}
	if err := h.sniper.book.Reserve(tokenA); err != nil {
		t.Errorf("dry run must release its slot: %v", err)
	}
}

func TestSniper_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*harness)
		cand   func(*harness) discovery.Candidate
		reason string
	}{
		{
			name: "low score old token",
			setup: func(h *harness) {
				h.sniper.scorer = ScorerFunc(func(context.Context, discovery.Candidate) (float64, error) { return 5, nil })
			},
			cand: func(h *harness) discovery.Candidate {
				c := h.candidate(tokenA)
				c.Priority = discovery.PriorityMedium
				c.DiscoveredAt = h.clock.Add(-time.Hour)
				return c
			},
			reason: ReasonLowScore,
		},
		{
			name:   "no route",
			setup:  func(h *harness) { h.prices.buyRouter = common.Address{} },
			reason: ReasonNoRoute,
		},
		{
			name:   "balance below trade size",
			setup:  func(h *harness) { h.balances.weth = money.MustParseEther("0.005") },
			reason: ReasonLowBalance,
		},
		{
			name:   "balance read failure",
			setup:  func(h *harness) { h.balances.wethErr = errors.New("429 Too Many Requests") },
			reason: ReasonBalanceFailed,
		},
		{
			name:   "swap failure",
			setup:  func(h *harness) { h.executor.fail = true },
			reason: ReasonSwapFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.Sizer.Floor = money.MustParseEther("0.01") })
			tt.setup(h)

			c := h.candidate(tokenA)
			if tt.cand != nil {
				c = tt.cand(h)
			}
			d := h.sniper.Consider(context.Background(), c)
			if d.Buy || d.Reason != tt.reason {
				t.Fatalf("decision = %+v, want reason %q", d, tt.reason)
			}
			if err := h.sniper.book.Reserve(tokenA); err != nil {
				t.Errorf("rejected candidate must release its slot: %v", err)
			}
		})
	}
}

func TestSniper_MaxPositions(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxPositions = 1 })

	if d := h.sniper.Consider(context.Background(), h.candidate(tokenA)); !d.Buy {
		t.Fatalf("first buy rejected: %+v", d)
	}
	if d := h.sniper.Consider(context.Background(), h.candidate(tokenB)); d.Reason != ReasonMaxPositions {
		t.Errorf("expected max positions rejection, got %+v", d)
	}
	if d := h.sniper.Consider(context.Background(), h.candidate(tokenA)); d.Reason != ReasonAlreadyHeld {
		t.Errorf("expected already held rejection, got %+v", d)
	}
}

func TestSniper_TakeProfit(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))

	h.prices.sellValue = money.MustParseEther("0.28")
	h.advance(10 * time.Second)
	h.sniper.MonitorOnce(context.Background())

	req := h.executor.last()
	if req.Direction != dex.Sell || req.Router != aeroRouter {
		t.Fatalf("expected sell on the quoted router, got %+v", req)
	}
	if req.AmountIn.Int64() != 5000 {
		t.Errorf("sell amount = %s, want full token balance", req.AmountIn)
	}
	if req.PnLPercent != 40 {
		t.Errorf("pnl = %v, want 40", req.PnLPercent)
	}

	st := h.sniper.Status()
	if st.Stats.ActivePositions != 0 || st.Stats.Wins != 1 || st.Stats.ClosedTrades != 1 {
		t.Errorf("unexpected stats after take profit %+v", st.Stats)
	}
	if st.Stats.RealizedWei.Cmp(money.MustParseEther("0.08")) != 0 {
		t.Errorf("realized = %s", money.FormatEther(st.Stats.RealizedWei))
	}
}

func TestSniper_HoldsUntilExit(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))

	h.prices.sellValue = money.MustParseEther("0.21")
	h.advance(30 * time.Second)
	h.sniper.MonitorOnce(context.Background())
	if h.executor.count() != 1 {
		t.Fatal("position sold before any exit rule fired")
	}
	if p, _ := h.sniper.book.Get(tokenA); p.LastPnL != 5 {
		t.Errorf("LastPnL = %v, want 5", p.LastPnL)
	}

	h.advance(270 * time.Second)
	h.sniper.MonitorOnce(context.Background())
	if h.executor.count() != 2 || h.executor.last().Direction != dex.Sell {
		t.Fatal("expected max hold sell")
	}
}

func TestSniper_FailedSellKeepsPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))

	h.executor.fail = true
	h.prices.sellValue = money.MustParseEther("0.1")
	h.sniper.MonitorOnce(context.Background())

	if h.sniper.book.Len() != 1 {
		t.Error("failed sell must keep the position for the next check")
	}
	if st := h.sniper.Status(); st.Stats.ClosedTrades != 0 {
		t.Errorf("failed sell must not count as closed, got %+v", st.Stats)
	}
}

func TestSniper_WaitsForTokenBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))
	delete(h.balances.tokens, tokenA)

	h.advance(400 * time.Second)
	h.sniper.MonitorOnce(context.Background())

	if h.executor.count() != 1 {
		t.Error("nothing to sell without a token balance")
	}
	if h.sniper.book.Len() != 1 {
		t.Error("position must be kept until it goes stale")
	}
}

func TestSniper_UnpricedSellOnlyExitsOnMaxHold(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))
	h.prices.fallback = true

	h.advance(100 * time.Second)
	h.sniper.MonitorOnce(context.Background())
	if h.executor.count() != 1 {
		t.Fatal("unpriced position sold early")
	}

	h.advance(200 * time.Second)
	h.sniper.MonitorOnce(context.Background())
	if req := h.executor.last(); req.Direction != dex.Sell || req.Router != uniRouter {
		t.Errorf("expected max hold sell on the fallback router, got %+v", req)
	}
}

func TestSniper_StalePositionsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.sniper.Consider(context.Background(), h.candidate(tokenA))

	h.advance(601 * time.Second)
	h.sniper.MonitorOnce(context.Background())

	if h.sniper.book.Len() != 0 {
		t.Error("stale position not dropped")
	}
	if h.executor.count() != 1 {
		t.Error("stale positions are dropped without selling")
	}
}

func TestSniper_PausesAfterLossStreak(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.sellValue = money.MustParseEther("0.1")

	for _, token := range []common.Address{tokenA, tokenB, tokenC} {
		if d := h.sniper.Consider(context.Background(), h.candidate(token)); !d.Buy {
			t.Fatalf("buy of %s rejected: %+v", token.Hex(), d)
		}
		h.sniper.MonitorOnce(context.Background())
	}

	st := h.sniper.Status()
	if st.Stats.Losses != 3 || st.Stats.PausedUntil.IsZero() {
		t.Fatalf("expected pause after 3 losses, got %+v", st.Stats)
	}

	d := h.sniper.Consider(context.Background(), h.candidate(common.HexToAddress("0xd4")))
	if d.Reason != ReasonPaused {
		t.Errorf("expected paused rejection, got %+v", d)
	}

	h.advance(5 * time.Minute)
	if _, paused := h.sniper.tracker.PausedUntil(h.clock); paused {
		t.Error("pause must lift after 5 minutes")
	}
}

func TestSniper_ShrinksAfterLosses(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.sellValue = money.MustParseEther("0.1")

	for _, token := range []common.Address{tokenA, tokenB} {
		h.sniper.Consider(context.Background(), h.candidate(token))
		h.sniper.MonitorOnce(context.Background())
	}

	h.sniper.Consider(context.Background(), h.candidate(tokenC))
	// two losses scale the 20% base by 0.7
	if got := h.executor.last().AmountIn; got.Cmp(money.MustParseEther("0.14")) != 0 {
		t.Errorf("amount = %s, want 0.14", money.FormatEther(got))
	}
}

func TestSniper_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MonitorInterval = time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sniper.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
	var _ discovery.Handler = (&Sniper{}).Handle
}
