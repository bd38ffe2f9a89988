package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
)

// ErrReceiptTimeout is returned when a transaction was not mined in time
var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// TxRequest is a contract call to submit from the wallet
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// Transactor builds, signs and submits legacy transactions from the wallet
type Transactor struct {
	backend blockchain.Backend
	signer  *Signer
}

// NewTransactor creates a transactor
func NewTransactor(backend blockchain.Backend, signer *Signer) *Transactor {
	return &Transactor{backend: backend, signer: signer}
}

// Address returns the sending address
func (t *Transactor) Address() common.Address {
	return t.signer.Address()
}

// Send fetches the pending nonce, signs req and submits it
func (t *Transactor) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	nonce, err := t.backend.PendingNonceAt(ctx, t.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      req.GasLimit,
		GasPrice: req.GasPrice,
		Data:     req.Data,
	})

	signed, err := t.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// WaitReceipt waits up to timeout for tx to be mined
func (t *Transactor) WaitReceipt(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, t.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrReceiptTimeout
		}
		return nil, err
	}
	return receipt, nil
}
