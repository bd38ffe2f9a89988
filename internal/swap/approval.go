package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
	"github.com/Prosniperv2/V2.0/internal/wallet"
)

// ErrAllowanceNotVisible is returned when an approval was sent but the
// allowance never reached the required amount
var ErrAllowanceNotVisible = errors.New("allowance not visible after approval")

// AllowanceReader reads ERC20 allowances for the wallet
type AllowanceReader interface {
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
}

// Approver grants routers an allowance before swaps
type Approver struct {
	allowances AllowanceReader
	sender     *wallet.Transactor
	gasLimit   uint64
	polls      int
	interval   time.Duration
	logger     *observability.Logger
}

// ApproverConfig holds approver configuration
type ApproverConfig struct {
	Allowances AllowanceReader
	Transactor *wallet.Transactor
	GasLimit   uint64        // default 100000
	Polls      int           // allowance reads after approving, default 10
	Interval   time.Duration // pause before each read, default 1.5s
	Logger     *observability.Logger
}

// NewApprover creates an approver
func NewApprover(cfg ApproverConfig) *Approver {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 100_000
	}
	if cfg.Polls <= 0 {
		cfg.Polls = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Approver{
		allowances: cfg.Allowances,
		sender:     cfg.Transactor,
		gasLimit:   cfg.GasLimit,
		polls:      cfg.Polls,
		interval:   cfg.Interval,
		logger:     cfg.Logger.Named("approver"),
	}
}

// Ensure makes sure spender may move at least amount of token. When the
// current allowance is short it approves twice the amount and waits for the
// new allowance to become readable.
func (a *Approver) Ensure(ctx context.Context, token, spender common.Address, amount, gasPrice *big.Int) error {
	current, err := a.allowances.Allowance(ctx, token, spender)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	approveAmount := new(big.Int).Mul(amount, big.NewInt(2))
	data, err := blockchain.ERC20ABI.Pack("approve", spender, approveAmount)
	if err != nil {
		return fmt.Errorf("failed to encode approve: %w", err)
	}

	tx, err := a.sender.Send(ctx, wallet.TxRequest{
		To:       token,
		Data:     data,
		GasLimit: a.gasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		return fmt.Errorf("approve failed: %w", err)
	}

	a.logger.Info("approval sent",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", approveAmount.String()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	visible, err := resilience.PollUntil(ctx, a.polls, a.interval, func(ctx context.Context) (bool, error) {
		allowance, err := a.allowances.Allowance(ctx, token, spender)
		if err != nil {
			return false, err
		}
		return allowance.Cmp(amount) >= 0, nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !visible {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAllowanceNotVisible, err)
		}
		return ErrAllowanceNotVisible
	}
	return nil
}
