// Package wallet holds the trading key, cached balance reads and transaction
// submission for the bot's single wallet.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/platform/cache"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// DefaultBalanceTTL is how long a balance read is served from cache
const DefaultBalanceTTL = 30 * time.Second

// BalanceEntry is a cached balance read
type BalanceEntry struct {
	Key        string
	Amount     *big.Int
	CapturedAt time.Time
}

// BalanceCache is a short-TTL cache of (wallet, token) balances. An entry
// older than the TTL is never returned, whatever the backing store keeps.
type BalanceCache struct {
	store   cache.Cache
	ttl     time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// NewBalanceCache creates a balance cache over store
func NewBalanceCache(store cache.Cache, ttl time.Duration, metrics *observability.Metrics) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &BalanceCache{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
	}
}

// BalanceKey is the cache key for a (wallet, token) pair
func BalanceKey(wallet, token common.Address) string {
	return "balance:" + strings.ToLower(wallet.Hex()) + ":" + strings.ToLower(token.Hex())
}

// Get returns the cached amount while it is younger than the TTL
func (bc *BalanceCache) Get(ctx context.Context, wallet, token common.Address) (*big.Int, bool) {
	entry, ok := bc.Entry(ctx, wallet, token)
	if !ok {
		return nil, false
	}
	return entry.Amount, true
}

// Entry returns the full cached entry while it is younger than the TTL
func (bc *BalanceCache) Entry(ctx context.Context, wallet, token common.Address) (BalanceEntry, bool) {
	key := BalanceKey(wallet, token)

	raw, err := bc.store.Get(ctx, key)
	if err != nil {
		bc.metrics.RecordCacheMiss(ctx, "balance")
		return BalanceEntry{}, false
	}

	entry, err := decodeEntry(key, raw)
	if err != nil || bc.now().Sub(entry.CapturedAt) >= bc.ttl {
		bc.metrics.RecordCacheMiss(ctx, "balance")
		return BalanceEntry{}, false
	}

	bc.metrics.RecordCacheHit(ctx, "balance")
	return entry, true
}

// Put stores amount as the current balance
func (bc *BalanceCache) Put(ctx context.Context, wallet, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: balance must be non-negative", cache.ErrInvalidValue)
	}
	key := BalanceKey(wallet, token)
	value := amount.String() + "@" + strconv.FormatInt(bc.now().UnixNano(), 10)
	return bc.store.Set(ctx, key, value, bc.ttl)
}

// TTL returns the entry lifetime
func (bc *BalanceCache) TTL() time.Duration {
	return bc.ttl
}

func decodeEntry(key, raw string) (BalanceEntry, error) {
	amountStr, tsStr, ok := strings.Cut(raw, "@")
	if !ok {
		return BalanceEntry{}, cache.ErrInvalidValue
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return BalanceEntry{}, cache.ErrInvalidValue
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return BalanceEntry{}, cache.ErrInvalidValue
	}
	return BalanceEntry{Key: key, Amount: amount, CapturedAt: time.Unix(0, ts)}, nil
}
