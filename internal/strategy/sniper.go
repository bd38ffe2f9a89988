package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Prosniperv2/V2.0/internal/dex"
	"github.com/Prosniperv2/V2.0/internal/discovery"
	"github.com/Prosniperv2/V2.0/internal/money"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/swap"
)

// maxSpendShare is the largest share of the WETH balance a single buy may spend
var maxSpendShare = decimal.RequireFromString("0.9")

// PriceSource finds the best route for a swap. *dex.Quoter implements it.
type PriceSource interface {
	GetBestPrice(ctx context.Context, token common.Address, amountIn *big.Int, direction dex.Direction) dex.Quote
}

// SwapExecutor submits swaps. *swap.Executor implements it.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, req swap.SwapRequest) (common.Hash, bool)
}

// BalanceSource reads wallet balances. *wallet.Balances implements it.
type BalanceSource interface {
	WETHBalance(ctx context.Context) (*big.Int, error)
	FreshTokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
}

// Status is the strategy state exposed on the status endpoint
type Status struct {
	RealTrading bool       `json:"real_trading"`
	Stats       Stats      `json:"stats"`
	Positions   []Position `json:"positions"`
}

// Sniper buys accepted candidates and sells them on the exit rules
type Sniper struct {
	scorer   Scorer
	prices   PriceSource
	executor SwapExecutor
	balances BalanceSource

	thresholds      Thresholds
	sizer           Sizer
	exits           ExitRules
	book            *Book
	tracker         *Tracker
	monitorInterval time.Duration
	staleAfter      time.Duration
	slippage        float64
	realTrading     bool

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	now func() time.Time
}

// Config holds sniper configuration
type Config struct {
	Scorer   Scorer
	Prices   PriceSource
	Executor SwapExecutor
	Balances BalanceSource

	Thresholds      Thresholds
	Sizer           Sizer
	Exits           ExitRules
	MaxPositions    int           // default 8
	MonitorInterval time.Duration // default 5s
	StaleAfter      time.Duration // default 600s
	LossStreakPause int           // default 3
	PauseDuration   time.Duration // default 5m
	// Slippage in percent passed to the executor. Zero uses its default.
	Slippage float64
	// RealTrading sends transactions. When false accepted buys are only logged.
	RealTrading bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// New creates a sniper
func New(cfg Config) (*Sniper, error) {
	if cfg.Prices == nil || cfg.Executor == nil || cfg.Balances == nil {
		return nil, fmt.Errorf("price source, executor and balances are required")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewRandomScorer(0)
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 600 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Sniper{
		scorer:          cfg.Scorer,
		prices:          cfg.Prices,
		executor:        cfg.Executor,
		balances:        cfg.Balances,
		thresholds:      cfg.Thresholds.withDefaults(),
		sizer:           cfg.Sizer.withDefaults(),
		exits:           cfg.Exits.withDefaults(),
		book:            NewBook(cfg.MaxPositions),
		tracker:         NewTracker(cfg.LossStreakPause, cfg.PauseDuration),
		monitorInterval: cfg.MonitorInterval,
		staleAfter:      cfg.StaleAfter,
		slippage:        cfg.Slippage,
		realTrading:     cfg.RealTrading,
		logger:          cfg.Logger.Named("strategy"),
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		now:             time.Now,
	}, nil
}

// Handle is a discovery.Handler
func (s *Sniper) Handle(ctx context.Context, c discovery.Candidate) {
	s.Consider(ctx, c)
}

// Consider scores a candidate and buys it when accepted
func (s *Sniper) Consider(ctx context.Context, c discovery.Candidate) Decision {
	ctx, span := s.tracer.StartSpan(ctx, "Sniper.Consider",
		attribute.String("token", c.Token.Hex()),
		attribute.String("priority", string(c.Priority)),
	)
	defer span.End()

	now := s.now()
	if until, paused := s.tracker.PausedUntil(now); paused {
		s.logger.LogInfo(ctx, "buying paused",
			slog.String("token", c.Token.Hex()),
			slog.Time("until", until),
		)
		return Decision{Reason: ReasonPaused}
	}

	s.cleanup(ctx, now)
	if err := s.book.Reserve(c.Token); err != nil {
		reason := ReasonMaxPositions
		if errors.Is(err, ErrTokenHeld) {
			reason = ReasonAlreadyHeld
		}
		return Decision{Reason: reason}
	}

	d := s.consider(ctx, c, now)
	if d.TxHash == "" {
		s.book.Release(c.Token)
	}
	span.SetAttributes(attribute.Bool("buy", d.Buy), attribute.String("reason", d.Reason))
	return d
}

func (s *Sniper) consider(ctx context.Context, c discovery.Candidate, now time.Time) Decision {
	raw, err := s.scorer.Score(ctx, c)
	if err != nil {
		s.logger.LogWarn(ctx, "scoring failed", slog.String("token", c.Token.Hex()), slog.Any("error", err))
		return Decision{Reason: ReasonScoreFailed}
	}

	d := s.thresholds.Evaluate(c, raw, now)
	s.logger.LogInfo(ctx, "candidate evaluated",
		slog.String("token", c.Token.Hex()),
		slog.String("symbol", c.Symbol),
		slog.Float64("score", d.Score),
		slog.Bool("buy", d.Buy),
		slog.String("reason", d.Reason),
	)
	if !d.Buy {
		return d
	}

	balance, err := s.balances.WETHBalance(ctx)
	if err != nil {
		s.logger.LogWarn(ctx, "WETH balance read failed", slog.Any("error", err))
		return Decision{Score: d.Score, Reason: ReasonBalanceFailed}
	}

	wins, losses := s.tracker.Streak()
	amount := s.sizer.Size(balance, wins, losses)
	if amount.Cmp(money.MulFloor(balance, maxSpendShare)) > 0 {
		s.logger.LogWarn(ctx, "WETH balance too low for trade",
			slog.String("balance", money.FormatEther(balance)),
			slog.String("amount", money.FormatEther(amount)),
		)
		return Decision{Score: d.Score, Reason: ReasonLowBalance}
	}

	quote := s.prices.GetBestPrice(ctx, c.Token, amount, dex.Buy)
	if quote.Router == (common.Address{}) {
		return Decision{Score: d.Score, Reason: ReasonNoRoute}
	}

	if !s.realTrading {
		s.logger.LogInfo(ctx, "real trading disabled, skipping buy",
			slog.String("token", c.Token.Hex()),
			slog.String("dex", quote.DEX),
			slog.String("amount", money.FormatEther(amount)),
		)
		return Decision{Buy: true, Score: d.Score, Reason: ReasonDryRun}
	}

	hash, ok := s.executor.ExecuteSwap(ctx, swap.SwapRequest{
		Token:     c.Token,
		AmountIn:  amount,
		Router:    quote.Router,
		Direction: dex.Buy,
		Slippage:  s.slippage,
		Path:      quote.Path,
		DEX:       quote.DEX,
	})
	s.tracker.RecordBuy(ok)
	if !ok {
		return Decision{Score: d.Score, Reason: ReasonSwapFailed}
	}

	pos := s.book.Open(Position{
		Token:    c.Token,
		Symbol:   c.Symbol,
		DEX:      quote.DEX,
		Router:   quote.Router,
		Path:     quote.Path,
		Spent:    amount,
		BuyTx:    hash,
		OpenedAt: s.now(),
	})
	s.metrics.RecordPositionOpened(ctx)
	s.logger.LogInfo(ctx, "position opened",
		slog.String("id", pos.ID),
		slog.String("token", c.Token.Hex()),
		slog.String("dex", quote.DEX),
		slog.String("spent", money.FormatEther(amount)),
		slog.String("tx_hash", hash.Hex()),
	)
	return Decision{Buy: true, Score: d.Score, TxHash: hash.Hex()}
}

// Run checks open positions every monitor interval until ctx is cancelled
func (s *Sniper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.MonitorOnce(ctx)
		}
	}
}

// MonitorOnce drops stale positions and evaluates the exit rules for the rest
func (s *Sniper) MonitorOnce(ctx context.Context) {
	s.cleanup(ctx, s.now())
	for _, p := range s.book.Positions() {
		if ctx.Err() != nil {
			return
		}
		s.check(ctx, p)
	}
}

func (s *Sniper) cleanup(ctx context.Context, now time.Time) {
	for _, p := range s.book.Stale(now, s.staleAfter) {
		s.metrics.RecordPositionClosed(ctx, string(ExitStale))
		s.logger.LogWarn(ctx, "stale position dropped",
			slog.String("id", p.ID),
			slog.String("token", p.Token.Hex()),
			slog.Duration("age", p.Age(now)),
		)
	}
}

func (s *Sniper) check(ctx context.Context, p Position) {
	balance, err := s.balances.FreshTokenBalance(ctx, p.Token)
	if err != nil {
		s.logger.LogWarn(ctx, "token balance read failed", slog.String("token", p.Token.Hex()), slog.Any("error", err))
		return
	}
	if balance.Sign() == 0 {
		s.logger.Debug("no token balance yet", slog.String("token", p.Token.Hex()))
		return
	}

	quote := s.prices.GetBestPrice(ctx, p.Token, balance, dex.Sell)
	var value *big.Int
	if quote.Found() && !quote.Fallback {
		value = quote.AmountOut
	}

	now := s.now()
	reason, pnl := s.exits.Evaluate(p, value, now)
	s.book.SetPnL(p.Token, pnl)
	if reason == ExitNone {
		return
	}

	router, path, dexID := quote.Router, quote.Path, quote.DEX
	if router == (common.Address{}) {
		router, path, dexID = p.Router, reversed(p.Path), p.DEX
	}

	s.logger.LogInfo(ctx, "exit triggered",
		slog.String("id", p.ID),
		slog.String("token", p.Token.Hex()),
		slog.String("reason", string(reason)),
		slog.Float64("pnl_percent", pnl),
		slog.Duration("held", p.Age(now)),
	)

	_, ok := s.executor.ExecuteSwap(ctx, swap.SwapRequest{
		Token:      p.Token,
		AmountIn:   balance,
		Router:     router,
		Direction:  dex.Sell,
		Slippage:   s.slippage,
		Path:       path,
		DEX:        dexID,
		PnLPercent: pnl,
	})
	if !ok {
		s.logger.LogWarn(ctx, "sell failed, keeping position", slog.String("token", p.Token.Hex()))
		return
	}

	if _, open := s.book.Close(p.Token); !open {
		return
	}
	s.metrics.RecordPositionClosed(ctx, string(reason))

	var profit *big.Int
	if value != nil {
		profit = new(big.Int).Sub(value, p.Spent)
	}
	if s.tracker.RecordClose(pnl, profit, now) {
		until, _ := s.tracker.PausedUntil(now)
		s.logger.LogWarn(ctx, "loss streak, pausing buys", slog.Time("until", until))
	}
}

// Status returns the current positions and trade stats
func (s *Sniper) Status() Status {
	stats := s.tracker.Snapshot(s.now())
	stats.ActivePositions = s.book.Len()
	return Status{
		RealTrading: s.realTrading,
		Stats:       stats,
		Positions:   s.book.Positions(),
	}
}

func reversed(path []common.Address) []common.Address {
	if len(path) == 0 {
		return nil
	}
	out := make([]common.Address, len(path))
	for i, addr := range path {
		out[len(path)-1-i] = addr
	}
	return out
}
