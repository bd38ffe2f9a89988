package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/dex"
	"github.com/Prosniperv2/V2.0/internal/money"
	"github.com/Prosniperv2/V2.0/internal/notification"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/wallet"
)

// ErrInsufficientBalance is returned when the wallet holds less of the source
// asset than the swap spends
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrNoMinOut is returned when the min-out quote fails and unprotected swaps
// are disabled
var ErrNoMinOut = errors.New("could not price minimum output")

// deadlineWindow is how long a signed swap stays valid on the router
const deadlineWindow = 600 * time.Second

// ExactQuoter prices a fixed path on one router
type ExactQuoter interface {
	QuoteExact(ctx context.Context, router common.Address, path []common.Address, amountIn *big.Int) (*big.Int, error)
}

// SwapRequest describes one swap
type SwapRequest struct {
	Token     common.Address
	AmountIn  *big.Int
	Router    common.Address
	Direction dex.Direction
	// Slippage is the tolerance in percent. Zero uses the executor default.
	Slippage float64
	// Path overrides the direct WETH/token path, e.g. with a quoted route
	Path []common.Address
	// DEX labels events and metrics
	DEX string
	// PnLPercent is the expected profit reported with sell events
	PnLPercent float64
}

// Attempt is one submission of a swap transaction
type Attempt struct {
	Number   int
	AmountIn *big.Int
	Slippage float64
	MinOut   *big.Int
	GasPrice *big.Int
}

// Executor submits swaps through a router
type Executor struct {
	balances   *wallet.Balances
	transactor *wallet.Transactor
	quoter     ExactQuoter
	gas        *GasOracle
	unwrapper  *Unwrapper
	approver   *Approver
	notifier   notification.Notifier
	weth       common.Address

	defaultSlippage float64
	maxRetries      int
	retryPause      time.Duration
	receiptTimeout  time.Duration
	swapGasLimit    uint64
	defaultGasLimit uint64
	acceptAnyOutput bool

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorConfig holds executor configuration
type ExecutorConfig struct {
	Balances   *wallet.Balances
	Transactor *wallet.Transactor
	Quoter     ExactQuoter
	Gas        *GasOracle
	Unwrapper  *Unwrapper
	Approver   *Approver
	Notifier   notification.Notifier
	WETH       common.Address

	DefaultSlippage float64       // percent, default 20
	MaxRetries      int           // submission attempts, default 3
	RetryPause      time.Duration // default 2s
	ReceiptTimeout  time.Duration // default 30s
	SwapGasLimit    uint64        // buys use twice this, default 350000
	DefaultGasLimit uint64        // sells, default 400000
	// AcceptAnyOutputOnQuoteFailure submits with minOut = 1 when the exact
	// quote fails instead of cancelling
	AcceptAnyOutputOnQuoteFailure bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewExecutor creates a swap executor
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Balances == nil || cfg.Transactor == nil {
		return nil, fmt.Errorf("balances and transactor are required")
	}
	if cfg.Quoter == nil {
		return nil, fmt.Errorf("quoter is required")
	}
	if cfg.Gas == nil || cfg.Unwrapper == nil || cfg.Approver == nil {
		return nil, fmt.Errorf("gas oracle, unwrapper and approver are required")
	}
	if cfg.DefaultSlippage <= 0 {
		cfg.DefaultSlippage = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 30 * time.Second
	}
	if cfg.SwapGasLimit == 0 {
		cfg.SwapGasLimit = 350_000
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = 400_000
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.Nop{}
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

	return &Executor{
		balances:        cfg.Balances,
		transactor:      cfg.Transactor,
		quoter:          cfg.Quoter,
		gas:             cfg.Gas,
		unwrapper:       cfg.Unwrapper,
		approver:        cfg.Approver,
		notifier:        cfg.Notifier,
		weth:            cfg.WETH,
		defaultSlippage: cfg.DefaultSlippage,
		maxRetries:      cfg.MaxRetries,
		retryPause:      cfg.RetryPause,
		receiptTimeout:  cfg.ReceiptTimeout,
		swapGasLimit:    cfg.SwapGasLimit,
		defaultGasLimit: cfg.DefaultGasLimit,
		acceptAnyOutput: cfg.AcceptAnyOutputOnQuoteFailure,
		logger:          cfg.Logger.Named("swap-executor"),
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		now:             time.Now,
		sleep:           sleepContext,
	}, nil
}

// Path returns the swap path for req: its override, or the direct
// WETH/token pair oriented by direction
func (e *Executor) Path(req SwapRequest) []common.Address {
	if len(req.Path) >= 2 {
		return req.Path
	}
	if req.Direction == dex.Sell {
		return []common.Address{req.Token, e.weth}
	}
	return []common.Address{e.weth, req.Token}
}

// ExecuteSwap runs the swap and returns its transaction hash. It never
// returns an error: failures are logged, notified and reported as false.
// A transaction sent but not mined within the receipt timeout is reported as
// a success so the caller can track it.
func (e *Executor) ExecuteSwap(ctx context.Context, req SwapRequest) (common.Hash, bool) {
	start := e.now()
	dir := req.Direction.String()

	ctx, span := e.tracer.StartSpan(ctx, "Executor.ExecuteSwap",
		attribute.String("token", req.Token.Hex()),
		attribute.String("router", req.Router.Hex()),
		attribute.String("direction", dir),
	)
	defer span.End()

	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		e.cancel(ctx, req, "invalid amount", start)
		return common.Hash{}, false
	}
	if req.Slippage <= 0 {
		req.Slippage = e.defaultSlippage
	}
	path := e.Path(req)

	e.logger.LogInfo(ctx, "starting swap",
		slog.String("direction", dir),
		slog.String("token", req.Token.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("router", req.Router.Hex()),
	)

	if err := e.checkBalance(ctx, path[0], req.AmountIn); err != nil {
		span.NoticeError(err)
		e.cancel(ctx, req, err.Error(), start)
		return common.Hash{}, false
	}

	if err := e.unwrapper.EnsureGas(ctx); err != nil {
		span.NoticeError(err)
		e.cancel(ctx, req, err.Error(), start)
		return common.Hash{}, false
	}

	// An unwrap spends WETH, so a WETH-funded swap is checked again
	if path[0] == e.weth {
		if err := e.checkBalance(ctx, path[0], req.AmountIn); err != nil {
			span.NoticeError(err)
			e.cancel(ctx, req, err.Error(), start)
			return common.Hash{}, false
		}
	}

	minOut, err := e.minOut(ctx, req, path)
	if err != nil {
		span.NoticeError(err)
		e.cancel(ctx, req, err.Error(), start)
		return common.Hash{}, false
	}

	gasPrice, err := e.gas.Price(ctx)
	if err != nil {
		span.NoticeError(err)
		e.cancel(ctx, req, err.Error(), start)
		return common.Hash{}, false
	}

	if err := e.approver.Ensure(ctx, path[0], req.Router, req.AmountIn, gasPrice); err != nil {
		span.NoticeError(err)
		e.cancel(ctx, req, err.Error(), start)
		return common.Hash{}, false
	}

	data, err := blockchain.RouterABI.Pack("swapExactTokensForTokens",
		req.AmountIn, minOut, path, e.transactor.Address(),
		big.NewInt(e.now().Add(deadlineWindow).Unix()),
	)
	if err != nil {
		e.cancel(ctx, req, fmt.Sprintf("failed to encode swap: %v", err), start)
		return common.Hash{}, false
	}

	gasLimit := e.defaultGasLimit
	if req.Direction == dex.Buy {
		gasLimit = e.swapGasLimit * 2
	}

	attempt := Attempt{AmountIn: req.AmountIn, Slippage: req.Slippage, MinOut: minOut, GasPrice: gasPrice}
	var lastErr error
	for attempt.Number = 1; attempt.Number <= e.maxRetries; attempt.Number++ {
		tx, err := e.transactor.Send(ctx, wallet.TxRequest{
			To:       req.Router,
			Data:     data,
			GasLimit: gasLimit,
			GasPrice: attempt.GasPrice,
		})
		e.metrics.RecordSwapAttempt(ctx, dir, attempt.Number, err == nil)

		if err == nil {
			span.SetAttributes(attribute.String("tx_hash", tx.Hash().Hex()), attribute.Int("attempt", attempt.Number))
			return e.await(ctx, req, tx, attempt, start)
		}

		lastErr = err
		e.logger.LogWarn(ctx, "swap submission failed",
			slog.Int("attempt", attempt.Number),
			slog.Int("max_attempts", e.maxRetries),
			slog.String("gas_price_gwei", fmt.Sprintf("%.3f", money.ToGwei(attempt.GasPrice))),
			slog.Any("error", err),
		)

		if attempt.Number == e.maxRetries {
			break
		}
		if err := e.sleep(ctx, e.retryPause); err != nil {
			lastErr = err
			break
		}
		attempt.GasPrice = BumpGasPrice(attempt.GasPrice)
	}

	span.NoticeError(lastErr)
	e.finish(ctx, req, notification.KindFailed, notification.StatusCancelled, "", fmt.Sprintf("all submission attempts failed: %v", lastErr), "send_failed", start)
	return common.Hash{}, false
}

func (e *Executor) checkBalance(ctx context.Context, asset common.Address, amount *big.Int) error {
	balance, err := e.balances.TokenBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

func (e *Executor) minOut(ctx context.Context, req SwapRequest, path []common.Address) (*big.Int, error) {
	quoted, err := e.quoter.QuoteExact(ctx, req.Router, path, req.AmountIn)
	if err == nil && quoted.Sign() > 0 {
		minOut := MinAmountOut(quoted, req.Slippage)
		e.logger.Debug("min output computed",
			slog.String("quoted", quoted.String()),
			slog.String("min_out", minOut.String()),
			slog.Float64("effective_slippage", EffectiveSlippage(req.Slippage)),
		)
		return minOut, nil
	}

	if err == nil {
		err = errors.New("quote returned zero")
	}
	if !e.acceptAnyOutput {
		return nil, fmt.Errorf("%w: %v", ErrNoMinOut, err)
	}
	e.logger.LogWarn(ctx, "min output quote failed, accepting any output",
		slog.String("token", req.Token.Hex()),
		slog.Any("error", err),
	)
	return big.NewInt(1), nil
}

func (e *Executor) await(ctx context.Context, req SwapRequest, tx *types.Transaction, attempt Attempt, start time.Time) (common.Hash, bool) {
	hash := tx.Hash()
	kind := notification.KindBuy
	if req.Direction == dex.Sell {
		kind = notification.KindSell
	}

	receipt, err := e.transactor.WaitReceipt(ctx, tx, e.receiptTimeout)
	if err != nil {
		e.logger.LogWarn(ctx, "swap sent but not confirmed",
			slog.String("tx_hash", hash.Hex()),
			slog.Any("error", err),
		)
		e.finish(ctx, req, kind, notification.StatusPending, hash.Hex(), err.Error(), "pending", start)
		return hash, true
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		e.finish(ctx, req, notification.KindFailed, notification.StatusReverted, hash.Hex(), "transaction reverted", "reverted", start)
		return common.Hash{}, false
	}

	e.logger.LogInfo(ctx, "swap confirmed",
		slog.String("tx_hash", hash.Hex()),
		slog.Int("attempt", attempt.Number),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	e.finish(ctx, req, kind, notification.StatusConfirmed, hash.Hex(), "", "confirmed", start)
	return hash, true
}

func (e *Executor) cancel(ctx context.Context, req SwapRequest, reason string, start time.Time) {
	e.logger.LogWarn(ctx, "swap cancelled",
		slog.String("token", req.Token.Hex()),
		slog.String("direction", req.Direction.String()),
		slog.String("reason", reason),
	)
	e.finish(ctx, req, notification.KindFailed, notification.StatusCancelled, "", reason, "cancelled", start)
}

func (e *Executor) finish(ctx context.Context, req SwapRequest, kind notification.Kind, status, txHash, reason, result string, start time.Time) {
	e.metrics.RecordSwapResult(ctx, req.Direction.String(), result, e.now().Sub(start))

	event := notification.NewEvent(kind, req.Token.Hex())
	event.DEX = req.DEX
	event.Direction = req.Direction.String()
	if req.AmountIn != nil {
		event.AmountIn = req.AmountIn.String()
	}
	event.TxHash = txHash
	event.Status = status
	event.Reason = reason
	event.PnLPercent = req.PnLPercent

	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.LogWarn(ctx, "trade notification failed", slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
