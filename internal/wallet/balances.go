package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// Balances reads wallet balances, serving token balances through the BalanceCache
type Balances struct {
	backend blockchain.Backend
	cache   *BalanceCache
	wallet  common.Address
	weth    common.Address
	retry   resilience.RetryConfig
	logger  *observability.Logger
}

// BalancesConfig holds balance reader configuration
type BalancesConfig struct {
	Backend blockchain.Backend
	Cache   *BalanceCache
	Wallet  common.Address
	WETH    common.Address
	// RetryPause is the wait before the second read after a rate-limit error
	RetryPause time.Duration // default 2s
	Logger     *observability.Logger
}

// NewBalances creates a balance reader
func NewBalances(cfg BalancesConfig) *Balances {
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Balances{
		backend: cfg.Backend,
		cache:   cfg.Cache,
		wallet:  cfg.Wallet,
		weth:    cfg.WETH,
		retry:   resilience.FixedRetryConfig(2, cfg.RetryPause),
		logger:  cfg.Logger.Named("balances"),
	}
}

// Wallet returns the wallet address balances are read for
func (b *Balances) Wallet() common.Address {
	return b.wallet
}

// Name identifies the balance reader as a cache warmup provider
func (b *Balances) Name() string { return "wallet-balances" }

// Warmup loads the WETH balance into the cache before trading starts
func (b *Balances) Warmup(ctx context.Context) error {
	_, err := b.FreshTokenBalance(ctx, b.weth)
	return err
}

// TokenBalance returns the wallet's balance of token, from cache when fresh
func (b *Balances) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	if amount, ok := b.cache.Get(ctx, b.wallet, token); ok {
		return amount, nil
	}
	return b.FreshTokenBalance(ctx, token)
}

// FreshTokenBalance reads the balance from the chain and repopulates the cache
func (b *Balances) FreshTokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	amount, err := resilience.RetryIfWithResult(ctx, b.retry, resilience.IsRateLimitError, func(ctx context.Context) (*big.Int, error) {
		return b.balanceOf(ctx, token)
	})
	if err != nil {
		b.logger.LogWarn(ctx, "balance read failed",
			slog.String("token", token.Hex()),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("balance of %s: %w", token.Hex(), err)
	}

	if err := b.cache.Put(ctx, b.wallet, token, amount); err != nil {
		b.logger.LogWarn(ctx, "failed to cache balance", slog.Any("error", err))
	}
	return amount, nil
}

// WETHBalance returns the wallet's WETH balance
func (b *Balances) WETHBalance(ctx context.Context) (*big.Int, error) {
	return b.TokenBalance(ctx, b.weth)
}

// NativeBalance returns the gas-asset balance. It is never cached.
func (b *Balances) NativeBalance(ctx context.Context) (*big.Int, error) {
	return resilience.RetryIfWithResult(ctx, b.retry, resilience.IsRateLimitError, func(ctx context.Context) (*big.Int, error) {
		return b.backend.BalanceAt(ctx, b.wallet, nil)
	})
}

// Allowance returns how much of token spender may move for the wallet
func (b *Balances) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	var out []interface{}
	err := blockchain.NewERC20Contract(token, b.backend).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", b.wallet, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}
	return firstBig(out, "allowance")
}

func (b *Balances) balanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	var out []interface{}
	err := blockchain.NewERC20Contract(token, b.backend).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", b.wallet)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return firstBig(out, "balanceOf")
}

func firstBig(out []interface{}, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}
