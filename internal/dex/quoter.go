package dex

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/platform/config"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// Quote is the best output found for a swap request
type Quote struct {
	DEX       string
	AmountOut *big.Int
	Router    common.Address
	Path      []common.Address
	// Fallback is set when no DEX priced the token and the quote assumes
	// liquidity will appear on the fallback DEX
	Fallback bool
}

// Found reports whether the quote carries a usable output amount
func (q Quote) Found() bool {
	return q.AmountOut != nil && q.AmountOut.Sign() > 0
}

// Quoter queries every enabled router along candidate paths and keeps the best output
type Quoter struct {
	registry      *Registry
	backend       blockchain.Backend
	limiter       *resilience.RateLimiter
	weth          common.Address
	intermediates []common.Address
	fallbackDEX   string
	allowFallback bool
	callTimeout   time.Duration
	maxPause      time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	sleep func(ctx context.Context, d time.Duration)
}

// QuoterConfig holds quoter configuration
type QuoterConfig struct {
	Registry *Registry
	Backend  blockchain.Backend
	// Limiter guards Backend. The quoter only reads its backoff to size the
	// pause after a rate-limit response.
	Limiter *resilience.RateLimiter
	WETH    common.Address
	// Intermediates are tried in order after the direct path
	Intermediates []common.Address
	FallbackDEX   string
	// AllowUnpricedFallback returns the fallback DEX with amountOut == amountIn
	// when no DEX priced the token
	AllowUnpricedFallback bool
	CallTimeout           time.Duration // default 10s
	MaxRateLimitPause     time.Duration // default 3s
	Logger                *observability.Logger
	Metrics               *observability.Metrics
	Tracer                observability.Tracer
}

// NewQuoter creates a quoter
func NewQuoter(cfg QuoterConfig) *Quoter {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxRateLimitPause <= 0 {
		cfg.MaxRateLimitPause = 3 * time.Second
	}
	if cfg.FallbackDEX == "" {
		cfg.FallbackDEX = config.DEXUniswapV3
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

	return &Quoter{
		registry:      cfg.Registry,
		backend:       cfg.Backend,
		limiter:       cfg.Limiter,
		weth:          cfg.WETH,
		intermediates: cfg.Intermediates,
		fallbackDEX:   cfg.FallbackDEX,
		allowFallback: cfg.AllowUnpricedFallback,
		callTimeout:   cfg.CallTimeout,
		maxPause:      cfg.MaxRateLimitPause,
		logger:        cfg.Logger.Named("quoter"),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		sleep:         pause,
	}
}

// Paths returns the candidate paths for token in the given direction:
// direct first, then through each intermediate.
func (q *Quoter) Paths(token common.Address, direction Direction) [][]common.Address {
	paths := make([][]common.Address, 0, 1+len(q.intermediates))
	paths = append(paths, []common.Address{q.weth, token})
	for _, mid := range q.intermediates {
		if mid == token || mid == q.weth {
			continue
		}
		paths = append(paths, []common.Address{q.weth, mid, token})
	}

	if direction == Sell {
		for _, p := range paths {
			for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
				p[i], p[j] = p[j], p[i]
			}
		}
	}
	return paths
}

// GetBestPrice returns the highest output across enabled DEXes. It never fails:
// with no usable quote it returns the fallback quote when allowed, otherwise a
// quote whose Found reports false.
func (q *Quoter) GetBestPrice(ctx context.Context, token common.Address, amountIn *big.Int, direction Direction) Quote {
	ctx, span := q.tracer.StartSpan(ctx, "Quoter.GetBestPrice",
		attribute.String("token", token.Hex()),
		attribute.String("direction", direction.String()),
		attribute.String("amount_in", amountIn.String()),
	)
	defer span.End()

	paths := q.Paths(token, direction)
	var best Quote

	for _, d := range q.registry.All() {
		if ctx.Err() != nil {
			break
		}

		out, path, ok := q.quoteDEX(ctx, d, amountIn, paths)
		if !ok {
			continue
		}

		// strictly greater keeps the higher-priority DEX on ties
		if best.AmountOut == nil || out.Cmp(best.AmountOut) > 0 {
			best = Quote{DEX: d.ID, AmountOut: out, Router: d.Router, Path: path}
		}
	}

	if best.Found() {
		span.SetAttributes(attribute.String("best_dex", best.DEX), attribute.String("amount_out", best.AmountOut.String()))
		q.metrics.RecordBestQuote(ctx, best.DEX, direction.String(), false)
		q.logger.Debug("best quote selected",
			slog.String("token", token.Hex()),
			slog.String("direction", direction.String()),
			slog.String("dex", best.DEX),
			slog.String("amount_out", best.AmountOut.String()),
		)
		return best
	}

	if !q.allowFallback {
		q.logger.Info("no DEX returned a quote",
			slog.String("token", token.Hex()),
			slog.String("direction", direction.String()),
		)
		return Quote{AmountOut: big.NewInt(0)}
	}

	fallback := Quote{
		DEX:       q.fallbackDEX,
		AmountOut: new(big.Int).Set(amountIn),
		Path:      paths[0],
		Fallback:  true,
	}
	if d, ok := q.registry.Get(q.fallbackDEX); ok {
		fallback.Router = d.Router
	}
	span.AddEvent("unpriced_fallback")
	q.metrics.RecordBestQuote(ctx, fallback.DEX, direction.String(), true)
	q.logger.Warn("no DEX returned a quote, using unpriced fallback",
		slog.String("token", token.Hex()),
		slog.String("direction", direction.String()),
		slog.String("dex", fallback.DEX),
	)
	return fallback
}

// quoteDEX tries paths in order on one DEX and stops at the first positive quote
func (q *Quoter) quoteDEX(ctx context.Context, d Descriptor, amountIn *big.Int, paths [][]common.Address) (*big.Int, []common.Address, bool) {
	router := NewRouter(d.Router, q.backend)

	for _, path := range paths {
		start := time.Now()
		out, err := q.call(ctx, router, amountIn, path)

		switch {
		case err == nil && out.Sign() > 0:
			q.metrics.RecordDEXQuote(ctx, d.ID, "ok", time.Since(start))
			return out, path, true

		case err == nil:
			q.metrics.RecordDEXQuote(ctx, d.ID, "zero", time.Since(start))

		case resilience.IsRateLimitError(err):
			q.metrics.RecordDEXQuote(ctx, d.ID, "rate_limited", time.Since(start))
			wait := q.maxPause
			if q.limiter != nil {
				wait = min(q.limiter.CurrentBackoff(), q.maxPause)
			}
			q.logger.Warn("rate limited while quoting",
				slog.String("dex", d.ID),
				slog.Duration("pause", wait),
			)
			q.sleep(ctx, wait)
			return nil, nil, false

		case resilience.IsExecutionReverted(err):
			q.metrics.RecordDEXQuote(ctx, d.ID, "no_pool", time.Since(start))

		default:
			q.metrics.RecordDEXQuote(ctx, d.ID, "error", time.Since(start))
			q.logger.Debug("quote failed",
				slog.String("dex", d.ID),
				slog.Int("hops", len(path)-1),
				slog.Any("error", err),
			)
		}
	}

	return nil, nil, false
}

// QuoteExact quotes amountIn along path on router
func (q *Quoter) QuoteExact(ctx context.Context, router common.Address, path []common.Address, amountIn *big.Int) (*big.Int, error) {
	return q.call(ctx, NewRouter(router, q.backend), amountIn, path)
}

func (q *Quoter) call(ctx context.Context, router *Router, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, q.callTimeout)
	defer cancel()
	return router.AmountsOut(callCtx, amountIn, path)
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
