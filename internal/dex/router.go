package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
)

// Router reads quotes from a V2-style router contract
type Router struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewRouter binds the router at address
func NewRouter(address common.Address, backend blockchain.Backend) *Router {
	return &Router{
		address:  address,
		contract: blockchain.NewRouterContract(address, backend),
	}
}

// Address returns the router address
func (r *Router) Address() common.Address {
	return r.address
}

// AmountsOut calls getAmountsOut and returns the final output amount
func (r *Router) AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("path needs at least two tokens, got %d", len(path))
	}

	var result []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &result, "getAmountsOut", amountIn, path); err != nil {
		return nil, fmt.Errorf("getAmountsOut failed: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("getAmountsOut returned no values")
	}

	amounts, ok := result[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut returned unexpected data")
	}
	return amounts[len(amounts)-1], nil
}
