// Package swap executes router swaps from the wallet: balance and gas
// pre-checks, min-out protection, approvals and a bounded submission loop.
package swap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Prosniperv2/V2.0/internal/money"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// GasPriceSource suggests a legacy gas price
type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasOracle caches the suggested gas price and caps it at a ceiling
type GasOracle struct {
	source  GasPriceSource
	max     *big.Int
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	cached *big.Int
	expiry time.Time
	now    func() time.Time
}

// GasOracleConfig holds gas oracle configuration
type GasOracleConfig struct {
	Source      GasPriceSource
	MaxGasPrice *big.Int      // ceiling in wei
	TTL         time.Duration // default 12s, roughly one block
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewGasOracle creates a gas oracle
func NewGasOracle(cfg GasOracleConfig) *GasOracle {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Second
	}
	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = money.Gwei(50)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	return &GasOracle{
		source:  cfg.Source,
		max:     new(big.Int).Set(cfg.MaxGasPrice),
		ttl:     cfg.TTL,
		logger:  cfg.Logger.Named("gas-oracle"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Price returns the current gas price, served from cache within the TTL
func (g *GasOracle) Price(ctx context.Context) (*big.Int, error) {
	g.mu.RLock()
	if g.cached != nil && g.now().Before(g.expiry) {
		price := new(big.Int).Set(g.cached)
		g.mu.RUnlock()
		return price, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// another caller may have refreshed while we waited for the lock
	if g.cached != nil && g.now().Before(g.expiry) {
		return new(big.Int).Set(g.cached), nil
	}

	price, err := g.source.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	if price.Cmp(g.max) > 0 {
		g.logger.Warn("gas price exceeds max, capping",
			slog.String("actual_wei", price.String()),
			slog.String("max_wei", g.max.String()),
		)
		price = new(big.Int).Set(g.max)
	}

	g.cached = price
	g.expiry = g.now().Add(g.ttl)
	g.metrics.RecordGasPrice(ctx, money.ToGwei(price))

	return new(big.Int).Set(price), nil
}

// Max returns the configured ceiling
func (g *GasOracle) Max() *big.Int {
	return new(big.Int).Set(g.max)
}

// BumpGasPrice returns price increased by 20%, rounded down, and always at
// least one wei above price
func BumpGasPrice(price *big.Int) *big.Int {
	bumped := new(big.Int).Mul(price, big.NewInt(6))
	bumped.Quo(bumped, big.NewInt(5))
	if bumped.Cmp(price) <= 0 {
		bumped.Add(price, big.NewInt(1))
	}
	return bumped
}
