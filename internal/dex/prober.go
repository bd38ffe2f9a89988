package dex

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// ProbeAmount is the WETH amount used for liquidity probes (0.00001 WETH)
var ProbeAmount = big.NewInt(10_000_000_000_000)

// DEXHealth is the result of probing one router
type DEXHealth struct {
	DEX        string
	Router     common.Address
	Deployed   bool
	Responsive bool
	Latency    time.Duration
	Error      string
}

// Prober checks that routers are deployed and answer quotes
type Prober struct {
	registry    *Registry
	backend     blockchain.Backend
	weth        common.Address
	probeToken  common.Address
	concurrency int
	logger      *observability.Logger
}

// ProberConfig holds prober configuration
type ProberConfig struct {
	Registry *Registry
	Backend  blockchain.Backend
	WETH     common.Address
	// ProbeToken is quoted against WETH to check a router answers (e.g. USDC)
	ProbeToken  common.Address
	Concurrency int // default 2
	Logger      *observability.Logger
}

// NewProber creates a prober
func NewProber(cfg ProberConfig) *Prober {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Prober{
		registry:    cfg.Registry,
		backend:     cfg.Backend,
		weth:        cfg.WETH,
		probeToken:  cfg.ProbeToken,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.Named("dex-prober"),
	}
}

// CheckAll probes every registered DEX. Results keep registry order.
func (p *Prober) CheckAll(ctx context.Context) []DEXHealth {
	dexes := p.registry.All()
	results := make([]DEXHealth, len(dexes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, d := range dexes {
		g.Go(func() error {
			results[i] = p.check(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		p.logger.Info("DEX probe",
			slog.String("dex", r.DEX),
			slog.Bool("deployed", r.Deployed),
			slog.Bool("responsive", r.Responsive),
			slog.Duration("latency", r.Latency),
			slog.String("error", r.Error),
		)
	}
	return results
}

func (p *Prober) check(ctx context.Context, d Descriptor) (h DEXHealth) {
	h = DEXHealth{DEX: d.ID, Router: d.Router}
	start := time.Now()
	defer func() { h.Latency = time.Since(start) }()

	code, err := p.backend.CodeAt(ctx, d.Router, nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	if len(code) == 0 {
		h.Error = "no contract code at router address"
		return h
	}
	h.Deployed = true

	out, err := NewRouter(d.Router, p.backend).AmountsOut(ctx, ProbeAmount, []common.Address{p.weth, p.probeToken})
	switch {
	case err != nil:
		h.Error = err.Error()
	case out.Sign() == 0:
		h.Error = "probe quote returned zero"
	default:
		h.Responsive = true
	}
	return h
}

// HasLiquidity returns the first DEX, in priority order, that quotes a
// positive amount for a small WETH to token swap
func (p *Prober) HasLiquidity(ctx context.Context, token common.Address) (string, bool) {
	for _, d := range p.registry.All() {
		out, err := NewRouter(d.Router, p.backend).AmountsOut(ctx, ProbeAmount, []common.Address{p.weth, token})
		if err != nil {
			if ctx.Err() != nil {
				return "", false
			}
			if !resilience.IsExecutionReverted(err) {
				p.logger.Debug("liquidity probe failed", slog.String("dex", d.ID), slog.Any("error", err))
			}
			continue
		}
		if out.Sign() > 0 {
			return d.ID, true
		}
	}
	return "", false
}

// Summary renders probe results as one line per DEX
func Summary(results []DEXHealth) []string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if !r.Responsive {
			status = "down: " + r.Error
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s)", r.DEX, status, r.Latency.Round(time.Millisecond)))
	}
	return lines
}
