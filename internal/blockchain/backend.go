// Package blockchain provides rate-limited, failover-aware access to the
// chain RPC and decodes factory events announcing new pairs.
package blockchain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// ErrNoHealthyEndpoint is returned when every RPC endpoint is marked down
var ErrNoHealthyEndpoint = errors.New("no healthy RPC endpoints available")

// Backend is the subset of an Ethereum client the bot depends on.
// *ethclient.Client satisfies it, as does ClientPool.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// isEndpointFailure reports whether err points at the endpoint itself rather
// than at the request, so another endpoint may succeed
func isEndpointFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if resilience.IsRateLimitError(err) || resilience.IsExecutionReverted(err) || resilience.IsNonceError(err) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"eof",
		"tls",
		"502",
		"503",
		"504",
		"bad gateway",
		"service unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
