// Package chaintest provides an in-memory blockchain.Backend for tests. It
// answers router quotes and ERC20/WETH reads and applies approve and withdraw
// transactions sent through it.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
)

// QuoteFunc answers getAmountsOut for router. Returning a nil slice with a
// nil error yields an all-zero amounts array.
type QuoteFunc func(router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error)

type allowanceKey struct {
	token, owner, spender common.Address
}

type pendingApproval struct {
	key       allowanceKey
	amount    *big.Int
	readsLeft int
}

// Backend is a scriptable in-memory chain
type Backend struct {
	mu sync.Mutex

	head       uint64
	code       map[common.Address][]byte
	native     map[common.Address]*big.Int
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	pending    []pendingApproval
	quote      QuoteFunc
	weth       common.Address

	gasPrice      *big.Int
	nonce         uint64
	sendErrs      []error
	sent          []*types.Transaction
	receipts      map[common.Hash]*types.Receipt
	noReceipts    bool
	revertSwaps   bool
	approvalDelay int
	errs          map[string]error
	calls         map[string]int
}

// New creates an empty chain whose wrapped native token is weth
func New(weth common.Address) *Backend {
	return &Backend{
		head:       1,
		code:       make(map[common.Address][]byte),
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		weth:       weth,
		gasPrice:   big.NewInt(1_000_000_000),
		receipts:   make(map[common.Hash]*types.Receipt),
		errs:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetCode deploys code at addr
func (b *Backend) SetCode(addr common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.code[addr] = code
}

// SetNative sets the native balance of addr
func (b *Backend) SetNative(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native[addr] = new(big.Int).Set(amount)
}

// SetTokenBalance sets the ERC20 balance of owner
func (b *Backend) SetTokenBalance(token, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setToken(token, owner, amount)
}

// SetAllowance sets the ERC20 allowance of spender over owner's tokens
func (b *Backend) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

// SetQuoteFunc installs the getAmountsOut handler
func (b *Backend) SetQuoteFunc(fn QuoteFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quote = fn
}

// SetGasPrice sets the suggested gas price
func (b *Backend) SetGasPrice(price *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasPrice = new(big.Int).Set(price)
}

// SetHead sets the current block number
func (b *Backend) SetHead(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = n
}

// FailSends makes the next len(errs) SendTransaction calls return errs in order
func (b *Backend) FailSends(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErrs = append(b.sendErrs, errs...)
}

// FailMethod makes every call to method (e.g. "balanceOf", "BalanceAt") return err
func (b *Backend) FailMethod(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, method)
		return
	}
	b.errs[method] = err
}

// WithholdReceipts makes TransactionReceipt report not found
func (b *Backend) WithholdReceipts(withhold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noReceipts = withhold
}

// RevertSwaps makes swap transactions mine with a failed status
func (b *Backend) RevertSwaps(revert bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertSwaps = revert
}

// DelayApprovals hides an approval until allowance has been read n times
func (b *Backend) DelayApprovals(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approvalDelay = n
}

// Sent returns the transactions accepted so far
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}

// Calls returns how many times method was invoked
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// TokenBalance returns the current ERC20 balance of owner
func (b *Backend) TokenBalance(token, owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.tokenOf(token, owner))
}

// Allowance returns the currently visible allowance
func (b *Backend) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (b *Backend) record(method string) error {
	b.calls[method]++
	return b.errs[method]
}

func (b *Backend) tokenOf(token, owner common.Address) *big.Int {
	if balances, ok := b.tokens[token]; ok {
		if v, ok := balances[owner]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *Backend) setToken(token, owner common.Address, amount *big.Int) {
	if _, ok := b.tokens[token]; !ok {
		b.tokens[token] = make(map[common.Address]*big.Int)
	}
	b.tokens[token][owner] = new(big.Int).Set(amount)
}

// CodeAt implements blockchain.Backend
func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CodeAt"); err != nil {
		return nil, err
	}
	return b.code[account], nil
}

// CallContract implements blockchain.Backend for the router and ERC20 methods
func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}

	if method, err := blockchain.RouterABI.MethodById(msg.Data[:4]); err == nil {
		return b.callRouter(*msg.To, method, msg.Data[4:])
	}
	if method, err := blockchain.ERC20ABI.MethodById(msg.Data[:4]); err == nil {
		return b.callERC20(*msg.To, method, msg.Data[4:])
	}
	return nil, errors.New("execution reverted")
}

func (b *Backend) callRouter(router common.Address, method *abi.Method, data []byte) ([]byte, error) {
	b.mu.Lock()
	quote := b.quote
	err := b.record(method.Name)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if method.Name != "getAmountsOut" {
		return nil, errors.New("execution reverted")
	}

	args, err := method.Inputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	amountIn := args[0].(*big.Int)
	path := args[1].([]common.Address)

	if quote == nil {
		return nil, errors.New("execution reverted")
	}
	amounts, err := quote(router, amountIn, path)
	if err != nil {
		return nil, err
	}
	if amounts == nil {
		amounts = make([]*big.Int, len(path))
		amounts[0] = amountIn
		for i := 1; i < len(amounts); i++ {
			amounts[i] = big.NewInt(0)
		}
	}
	return method.Outputs.Pack(amounts)
}

func (b *Backend) callERC20(token common.Address, method *abi.Method, data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(method.Name); err != nil {
		return nil, err
	}

	args, err := method.Inputs.Unpack(data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(new(big.Int).Set(b.tokenOf(token, args[0].(common.Address))))
	case "allowance":
		key := allowanceKey{token, args[0].(common.Address), args[1].(common.Address)}
		b.advanceApprovals(key)
		amount, ok := b.allowances[key]
		if !ok {
			amount = new(big.Int)
		}
		return method.Outputs.Pack(new(big.Int).Set(amount))
	case "decimals":
		return method.Outputs.Pack(uint8(18))
	case "symbol":
		return method.Outputs.Pack("TEST")
	}
	return nil, errors.New("execution reverted")
}

// advanceApprovals counts an allowance read against pending approvals (caller holds lock)
func (b *Backend) advanceApprovals(key allowanceKey) {
	kept := b.pending[:0]
	for _, p := range b.pending {
		if p.key == key {
			p.readsLeft--
			if p.readsLeft < 0 {
				b.allowances[key] = p.amount
				continue
			}
		}
		kept = append(kept, p)
	}
	b.pending = kept
}

// BlockNumber implements blockchain.Backend
func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("BlockNumber"); err != nil {
		return 0, err
	}
	return b.head, nil
}

// BalanceAt implements blockchain.Backend
func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("BalanceAt"); err != nil {
		return nil, err
	}
	if v, ok := b.native[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

// PendingNonceAt implements blockchain.Backend
func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("PendingNonceAt"); err != nil {
		return 0, err
	}
	return b.nonce, nil
}

// SuggestGasPrice implements blockchain.Backend
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("SuggestGasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.gasPrice), nil
}

// SendTransaction implements blockchain.Backend. Approve and withdraw calls
// take effect; swaps are only recorded.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["SendTransaction"]++

	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		if err != nil {
			return err
		}
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	status := types.ReceiptStatusSuccessful
	if tx.To() != nil && len(tx.Data()) >= 4 {
		switch {
		case isMethod(blockchain.ERC20ABI, "approve", tx.Data()):
			args, err := blockchain.ERC20ABI.Methods["approve"].Inputs.Unpack(tx.Data()[4:])
			if err != nil {
				return err
			}
			key := allowanceKey{*tx.To(), from, args[0].(common.Address)}
			amount := new(big.Int).Set(args[1].(*big.Int))
			if b.approvalDelay > 0 {
				b.pending = append(b.pending, pendingApproval{key: key, amount: amount, readsLeft: b.approvalDelay})
			} else {
				b.allowances[key] = amount
			}
		case isMethod(blockchain.WETHABI, "withdraw", tx.Data()) && *tx.To() == b.weth:
			args, err := blockchain.WETHABI.Methods["withdraw"].Inputs.Unpack(tx.Data()[4:])
			if err != nil {
				return err
			}
			amount := args[0].(*big.Int)
			bal := b.tokenOf(b.weth, from)
			if bal.Cmp(amount) < 0 {
				status = types.ReceiptStatusFailed
				break
			}
			b.setToken(b.weth, from, new(big.Int).Sub(bal, amount))
			native, ok := b.native[from]
			if !ok {
				native = new(big.Int)
			}
			b.native[from] = new(big.Int).Add(native, amount)
		case isMethod(blockchain.RouterABI, "swapExactTokensForTokens", tx.Data()):
			if b.revertSwaps {
				status = types.ReceiptStatusFailed
			}
		}
	}

	b.sent = append(b.sent, tx)
	b.nonce++
	b.head++
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.head),
		GasUsed:     tx.Gas() / 2,
	}
	return nil
}

func isMethod(contract abi.ABI, name string, data []byte) bool {
	m, ok := contract.Methods[name]
	return ok && string(m.ID) == string(data[:4])
}

// TransactionReceipt implements blockchain.Backend
func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("TransactionReceipt"); err != nil {
		return nil, err
	}
	if b.noReceipts {
		return nil, ethereum.NotFound
	}
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// FilterLogs implements blockchain.Backend; the chain holds no logs
func (b *Backend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("FilterLogs"); err != nil {
		return nil, err
	}
	return nil, nil
}
