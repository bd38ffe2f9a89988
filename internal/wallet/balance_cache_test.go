package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/platform/cache"
)

var (
	testWallet = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testWETH   = common.HexToAddress("0x4200000000000000000000000000000000000006")
	testToken  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestBalanceCache(t *testing.T) (*BalanceCache, *time.Time) {
	t.Helper()
	store := cache.NewMemoryCache(100)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()
	bc := NewBalanceCache(store, 30*time.Second, nil)
	bc.now = func() time.Time { return now }
	return bc, &now
}

func TestBalanceCache_HitWithinTTL(t *testing.T) {
	bc, _ := newTestBalanceCache(t)
	ctx := context.Background()

	amount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	if err := bc.Put(ctx, testWallet, testToken, amount); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := bc.Get(ctx, testWallet, testToken)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Cmp(amount) != 0 {
		t.Errorf("expected %v, got %v", amount, got)
	}
}

func TestBalanceCache_ExpiresAfterTTL(t *testing.T) {
	bc, now := newTestBalanceCache(t)
	ctx := context.Background()

	if err := bc.Put(ctx, testWallet, testToken, big.NewInt(5)); err != nil {
		t.Fatalf("put: %v", err)
	}

	*now = now.Add(29 * time.Second)
	if _, ok := bc.Get(ctx, testWallet, testToken); !ok {
		t.Error("expected hit just before TTL")
	}

	*now = now.Add(time.Second)
	if _, ok := bc.Get(ctx, testWallet, testToken); ok {
		t.Error("entry at TTL age must be a miss")
	}
}

func TestBalanceCache_KeyedByWalletAndToken(t *testing.T) {
	bc, _ := newTestBalanceCache(t)
	ctx := context.Background()

	_ = bc.Put(ctx, testWallet, testToken, big.NewInt(1))
	_ = bc.Put(ctx, testWallet, testWETH, big.NewInt(2))

	if v, _ := bc.Get(ctx, testWallet, testToken); v.Int64() != 1 {
		t.Errorf("token balance: got %v", v)
	}
	if v, _ := bc.Get(ctx, testWallet, testWETH); v.Int64() != 2 {
		t.Errorf("weth balance: got %v", v)
	}
	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	if _, ok := bc.Get(ctx, other, testToken); ok {
		t.Error("expected miss for another wallet")
	}
}

func TestBalanceCache_OverwriteRefreshesCapture(t *testing.T) {
	bc, now := newTestBalanceCache(t)
	ctx := context.Background()

	_ = bc.Put(ctx, testWallet, testToken, big.NewInt(1))
	*now = now.Add(20 * time.Second)
	_ = bc.Put(ctx, testWallet, testToken, big.NewInt(2))
	*now = now.Add(20 * time.Second)

	entry, ok := bc.Entry(ctx, testWallet, testToken)
	if !ok || entry.Amount.Int64() != 2 {
		t.Fatalf("expected refreshed entry, got %+v %v", entry, ok)
	}
	if entry.Key != BalanceKey(testWallet, testToken) {
		t.Errorf("unexpected key %s", entry.Key)
	}
}

func TestBalanceCache_RejectsInvalidAmounts(t *testing.T) {
	bc, _ := newTestBalanceCache(t)
	if err := bc.Put(context.Background(), testWallet, testToken, big.NewInt(-1)); err == nil {
		t.Error("expected error for negative balance")
	}
	if err := bc.Put(context.Background(), testWallet, testToken, nil); err == nil {
		t.Error("expected error for nil balance")
	}
}

func TestBalanceCache_IgnoresCorruptValues(t *testing.T) {
	store := cache.NewMemoryCache(10)
	defer store.Close()
	bc := NewBalanceCache(store, 0, nil)

	_ = store.Set(context.Background(), BalanceKey(testWallet, testToken), "not-a-number", time.Minute)
	if _, ok := bc.Get(context.Background(), testWallet, testToken); ok {
		t.Error("expected miss for corrupt value")
	}
	if bc.TTL() != DefaultBalanceTTL {
		t.Errorf("expected default TTL, got %v", bc.TTL())
	}
}
