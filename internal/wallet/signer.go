package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions with the wallet key
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewSigner parses a hex private key. When expected is non-zero the derived
// address must match it.
func NewSigner(hexKey string, chainID int64, expected common.Address) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	if expected != (common.Address{}) && address != expected {
		return nil, fmt.Errorf("private key belongs to %s, not the configured wallet %s", address.Hex(), expected.Hex())
	}

	id := big.NewInt(chainID)
	return &Signer{
		key:     key,
		address: address,
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the wallet address
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns a copy of the chain id transactions are signed for
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the configured chain
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
