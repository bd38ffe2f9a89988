package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// Dialer opens a Backend for url. The returned close func releases it.
type Dialer func(ctx context.Context, url string) (Backend, func(), error)

// DialEthclient dials url with go-ethereum's ethclient
func DialEthclient(ctx context.Context, url string) (Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// RPCEndpoint is a single RPC endpoint
type RPCEndpoint struct {
	URL     string
	Primary bool

	mu      sync.Mutex
	backend Backend
	close   func()
	healthy atomic.Bool
}

func (ep *RPCEndpoint) get() Backend {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.backend
}

// ClientPool routes calls to the primary endpoint while it is healthy and
// fails over to backups in order. Every call passes through the RPC limiter
// unless made through the view returned by Unlimited.
type ClientPool struct {
	endpoints []*RPCEndpoint // primary first
	limiter   *resilience.RateLimiter
	dial      Dialer

	logger              *observability.Logger
	metrics             *observability.Metrics
	healthCheckInterval time.Duration
}

// ClientPoolConfig holds client pool configuration
type ClientPoolConfig struct {
	PrimaryURL          string
	BackupURLs          []string
	Limiter             *resilience.RateLimiter // nil disables rate limiting
	Dial                Dialer
	Logger              *observability.Logger
	Metrics             *observability.Metrics
	HealthCheckInterval time.Duration
}

// NewClientPool dials every endpoint. It fails only when none is reachable.
func NewClientPool(ctx context.Context, cfg ClientPoolConfig) (*ClientPool, error) {
	if cfg.PrimaryURL == "" {
		return nil, fmt.Errorf("primary RPC URL is required")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialEthclient
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	cp := &ClientPool{
		limiter:             cfg.Limiter,
		dial:                cfg.Dial,
		logger:              cfg.Logger.Named("client-pool"),
		metrics:             cfg.Metrics,
		healthCheckInterval: cfg.HealthCheckInterval,
	}

	urls := append([]string{cfg.PrimaryURL}, cfg.BackupURLs...)
	for i, url := range urls {
		ep := &RPCEndpoint{URL: url, Primary: i == 0}
		cp.endpoints = append(cp.endpoints, ep)

		if err := cp.connect(ctx, ep); err != nil {
			cp.logger.LogError(ctx, "failed to connect to RPC endpoint", err,
				slog.String("url", url),
				slog.Bool("primary", ep.Primary),
			)
			continue
		}
		cp.logger.Info("connected to RPC endpoint",
			slog.String("url", url),
			slog.Bool("primary", ep.Primary),
		)
	}

	if cp.HealthyCount() == 0 {
		cp.Close()
		return nil, ErrNoHealthyEndpoint
	}

	return cp, nil
}

func (cp *ClientPool) connect(ctx context.Context, ep *RPCEndpoint) error {
	backend, closeFn, err := cp.dial(ctx, ep.URL)
	if err != nil {
		ep.healthy.Store(false)
		return err
	}

	ep.mu.Lock()
	ep.backend = backend
	ep.close = closeFn
	ep.mu.Unlock()

	ep.healthy.Store(true)
	cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, true)
	return nil
}

// Run re-checks unhealthy endpoints until ctx is done. Healthy endpoints are
// verified by live traffic.
func (cp *ClientPool) Run(ctx context.Context) error {
	ticker := time.NewTicker(cp.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, ep := range cp.endpoints {
				if !ep.healthy.Load() {
					cp.checkEndpoint(ctx, ep)
				}
			}
		}
	}
}

func (cp *ClientPool) checkEndpoint(ctx context.Context, ep *RPCEndpoint) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if ep.get() == nil {
		if err := cp.connect(checkCtx, ep); err != nil {
			cp.logger.Debug("RPC endpoint still unreachable", slog.String("url", ep.URL), slog.Any("error", err))
			return
		}
	}

	_, err := resilience.WithRateLimit(checkCtx, cp.limiter, func(ctx context.Context) (uint64, error) {
		return ep.get().BlockNumber(ctx)
	})
	if err != nil {
		cp.logger.Debug("RPC endpoint health check failed", slog.String("url", ep.URL), slog.Any("error", err))
		cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, false)
		return
	}

	if !ep.healthy.Swap(true) {
		cp.logger.Info("RPC endpoint is healthy again", slog.String("url", ep.URL), slog.Bool("primary", ep.Primary))
	}
	cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, true)
}

// Unlimited returns a view of the pool that shares its endpoints and health
// state but skips the RPC limiter. Block polling and log scans for discovery
// use it so they never compete with quotes and swaps for limiter slots.
// Run and Close belong to the original pool.
func (cp *ClientPool) Unlimited() *ClientPool {
	view := *cp
	view.limiter = nil
	return &view
}

// MarkUnhealthy takes an endpoint out of rotation until a health check passes
func (cp *ClientPool) MarkUnhealthy(url string, cause error) {
	for _, ep := range cp.endpoints {
		if ep.URL != url {
			continue
		}
		if ep.healthy.Swap(false) {
			cp.logger.Warn("marking RPC endpoint as unhealthy",
				slog.String("url", url),
				slog.Bool("primary", ep.Primary),
				slog.Any("error", cause),
			)
			cp.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
		}
		return
	}
}

// call runs fn against the first healthy endpoint, failing over on endpoint errors
func call[T any](ctx context.Context, cp *ClientPool, fn func(ctx context.Context, b Backend) (T, error)) (T, error) {
	var zero T
	var lastErr error
	tried := false

	for _, ep := range cp.endpoints {
		if !ep.healthy.Load() {
			continue
		}
		backend := ep.get()
		if backend == nil {
			continue
		}
		tried = true

		res, err := resilience.WithRateLimit(ctx, cp.limiter, func(ctx context.Context) (T, error) {
			return fn(ctx, backend)
		})
		if err == nil {
			return res, nil
		}
		if !isEndpointFailure(err) || ctx.Err() != nil {
			return zero, err
		}

		cp.MarkUnhealthy(ep.URL, err)
		lastErr = err
	}

	if !tried {
		return zero, ErrNoHealthyEndpoint
	}
	return zero, lastErr
}

// CodeAt implements Backend
func (cp *ClientPool) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) ([]byte, error) {
		return b.CodeAt(ctx, account, blockNumber)
	})
}

// CallContract implements Backend
func (cp *ClientPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) ([]byte, error) {
		return b.CallContract(ctx, msg, blockNumber)
	})
}

// BlockNumber implements Backend
func (cp *ClientPool) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
}

// BalanceAt implements Backend
func (cp *ClientPool) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.BalanceAt(ctx, account, blockNumber)
	})
}

// PendingNonceAt implements Backend
func (cp *ClientPool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) (uint64, error) {
		return b.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice implements Backend
func (cp *ClientPool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.SuggestGasPrice(ctx)
	})
}

// SendTransaction implements Backend
func (cp *ClientPool) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, cp, func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionReceipt implements Backend
func (cp *ClientPool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) (*types.Receipt, error) {
		return b.TransactionReceipt(ctx, txHash)
	})
}

// FilterLogs implements Backend
func (cp *ClientPool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, cp, func(ctx context.Context, b Backend) ([]types.Log, error) {
		return b.FilterLogs(ctx, q)
	})
}

// HealthyCount returns the number of healthy endpoints
func (cp *ClientPool) HealthyCount() int {
	count := 0
	for _, ep := range cp.endpoints {
		if ep.healthy.Load() {
			count++
		}
	}
	return count
}

// EndpointStatus returns health per endpoint URL
func (cp *ClientPool) EndpointStatus() map[string]bool {
	status := make(map[string]bool, len(cp.endpoints))
	for _, ep := range cp.endpoints {
		status[ep.URL] = ep.healthy.Load()
	}
	return status
}

// Close closes all client connections
func (cp *ClientPool) Close() {
	for _, ep := range cp.endpoints {
		ep.mu.Lock()
		if ep.close != nil {
			ep.close()
		}
		ep.backend = nil
		ep.close = nil
		ep.mu.Unlock()
		ep.healthy.Store(false)
	}
}
