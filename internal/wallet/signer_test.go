package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Prosniperv2/V2.0/internal/blockchain/chaintest"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected common.Address
		wantErr  bool
	}{
		{"derives address", testKey, common.Address{}, false},
		{"accepts 0x prefix", "0x" + testKey, testWallet, false},
		{"address mismatch", testKey, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), true},
		{"bad hex", "zz", common.Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSigner(tt.key, 8453, tt.expected)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Address() != testWallet {
				t.Errorf("expected %s, got %s", testWallet.Hex(), s.Address().Hex())
			}
			if s.ChainID().Int64() != 8453 {
				t.Errorf("unexpected chain id %v", s.ChainID())
			}
		})
	}
}

func TestSigner_SignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(testKey, 8453, common.Address{})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &testToken, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), signed)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if from != testWallet {
		t.Errorf("expected sender %s, got %s", testWallet.Hex(), from.Hex())
	}
	if signed.ChainId().Int64() != 8453 {
		t.Errorf("expected EIP-155 chain id, got %v", signed.ChainId())
	}
}

func TestTransactor_SendAndWait(t *testing.T) {
	chain := chaintest.New(testWETH)
	s, _ := NewSigner(testKey, 8453, common.Address{})
	tr := NewTransactor(chain, s)

	tx, err := tr.Send(context.Background(), TxRequest{To: testToken, GasLimit: 50_000, GasPrice: big.NewInt(2)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if tx.Gas() != 50_000 || tx.GasPrice().Int64() != 2 || tx.Value().Sign() != 0 {
		t.Errorf("unexpected tx fields gas=%d price=%v value=%v", tx.Gas(), tx.GasPrice(), tx.Value())
	}

	receipt, err := tr.WaitReceipt(context.Background(), tx, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Errorf("unexpected status %d", receipt.Status)
	}
}

func TestTransactor_WaitTimesOut(t *testing.T) {
	chain := chaintest.New(testWETH)
	chain.WithholdReceipts(true)
	s, _ := NewSigner(testKey, 8453, common.Address{})
	tr := NewTransactor(chain, s)

	tx, err := tr.Send(context.Background(), TxRequest{To: testToken, GasLimit: 21_000, GasPrice: big.NewInt(1)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := tr.WaitReceipt(context.Background(), tx, 20*time.Millisecond); !errors.Is(err, ErrReceiptTimeout) {
		t.Errorf("expected ErrReceiptTimeout, got %v", err)
	}
}

func TestTransactor_SendError(t *testing.T) {
	chain := chaintest.New(testWETH)
	chain.FailSends(errors.New("insufficient funds for gas * price + value"))
	s, _ := NewSigner(testKey, 8453, common.Address{})
	tr := NewTransactor(chain, s)

	if _, err := tr.Send(context.Background(), TxRequest{To: testToken, GasLimit: 21_000, GasPrice: big.NewInt(1)}); err == nil {
		t.Fatal("expected send error")
	}
}
