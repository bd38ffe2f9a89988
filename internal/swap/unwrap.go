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

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/money"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/wallet"
)

// ErrInsufficientGas is returned when the wallet cannot fund gas, even by
// unwrapping WETH
var ErrInsufficientGas = errors.New("insufficient native balance for gas")

// Unwrapper tops up the native gas balance by withdrawing WETH
type Unwrapper struct {
	balances       *wallet.Balances
	sender         *wallet.Transactor
	gas            *GasOracle
	weth           common.Address
	minGas         *big.Int
	minUnwrap      *big.Int
	gasLimit       uint64
	receiptTimeout time.Duration
	logger         *observability.Logger
}

// UnwrapperConfig holds unwrapper configuration
type UnwrapperConfig struct {
	Balances   *wallet.Balances
	Transactor *wallet.Transactor
	Gas        *GasOracle
	WETH       common.Address
	// MinGasBalance is the native balance below which WETH is unwrapped
	MinGasBalance *big.Int // default 0.0005 ETH
	// MinUnwrap is the smallest withdraw
	MinUnwrap      *big.Int      // default 0.0001 ETH
	GasLimit       uint64        // default 50000
	ReceiptTimeout time.Duration // default 30s
	Logger         *observability.Logger
}

// NewUnwrapper creates an unwrapper
func NewUnwrapper(cfg UnwrapperConfig) *Unwrapper {
	if cfg.MinGasBalance == nil {
		cfg.MinGasBalance = money.MustParseEther("0.0005")
	}
	if cfg.MinUnwrap == nil {
		cfg.MinUnwrap = money.MustParseEther("0.0001")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 50_000
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Unwrapper{
		balances:       cfg.Balances,
		sender:         cfg.Transactor,
		gas:            cfg.Gas,
		weth:           cfg.WETH,
		minGas:         cfg.MinGasBalance,
		minUnwrap:      cfg.MinUnwrap,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         cfg.Logger.Named("unwrapper"),
	}
}

// UnwrapAmount returns how much WETH to withdraw to lift native to minGas,
// or zero when no withdraw is needed
func (u *Unwrapper) UnwrapAmount(native *big.Int) *big.Int {
	if native.Cmp(u.minGas) >= 0 {
		return new(big.Int)
	}
	need := new(big.Int).Sub(u.minGas, native)
	return new(big.Int).Set(money.Max(need, u.minUnwrap))
}

// EnsureGas withdraws WETH when the native balance is below the minimum.
// It returns ErrInsufficientGas when the withdraw cannot be funded or fails.
func (u *Unwrapper) EnsureGas(ctx context.Context) error {
	native, err := u.balances.NativeBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to read native balance: %w", err)
	}

	amount := u.UnwrapAmount(native)
	if amount.Sign() == 0 {
		return nil
	}

	wethBal, err := u.balances.FreshTokenBalance(ctx, u.weth)
	if err != nil {
		return fmt.Errorf("failed to read WETH balance: %w", err)
	}
	if wethBal.Cmp(amount) < 0 {
		u.logger.LogWarn(ctx, "not enough WETH to unwrap for gas",
			slog.String("native", money.FormatEther(native)),
			slog.String("weth", money.FormatEther(wethBal)),
			slog.String("needed", money.FormatEther(amount)),
		)
		return fmt.Errorf("%w: have %s ETH and %s WETH, need %s more",
			ErrInsufficientGas, money.FormatEther(native), money.FormatEther(wethBal), money.FormatEther(amount))
	}

	gasPrice, err := u.gas.Price(ctx)
	if err != nil {
		return err
	}

	data, err := blockchain.WETHABI.Pack("withdraw", amount)
	if err != nil {
		return fmt.Errorf("failed to encode withdraw: %w", err)
	}

	tx, err := u.sender.Send(ctx, wallet.TxRequest{
		To:       u.weth,
		Data:     data,
		GasLimit: u.gasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		return fmt.Errorf("%w: withdraw failed: %v", ErrInsufficientGas, err)
	}

	receipt, err := u.sender.WaitReceipt(ctx, tx, u.receiptTimeout)
	if err != nil {
		return fmt.Errorf("%w: withdraw %s not confirmed: %v", ErrInsufficientGas, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: withdraw %s reverted", ErrInsufficientGas, tx.Hash().Hex())
	}

	u.logger.Info("unwrapped WETH for gas",
		slog.String("amount", money.FormatEther(amount)),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	if _, err := u.balances.FreshTokenBalance(ctx, u.weth); err != nil {
		u.logger.LogWarn(ctx, "failed to refresh WETH balance after unwrap", slog.Any("error", err))
	}
	return nil
}
