package cache

import (
	"context"
	"time"
)

// DefaultL1MaxTTL bounds how long the in-process tier may hold an entry
const DefaultL1MaxTTL = time.Minute

// LayeredCache is a write-through two-tier cache (L1: memory, L2: Redis).
// Either tier may be nil.
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2, l1MaxTTL: DefaultL1MaxTTL}
}

// Get reads L1, then L2, backfilling L1 on an L2 hit
func (lc *LayeredCache) Get(ctx context.Context, key string) (string, error) {
	if lc.l1 != nil {
		if val, err := lc.l1.Get(ctx, key); err == nil {
			return val, nil
		}
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		}
	}

	return "", ErrNotFound
}

// Set writes both tiers; it fails only when every present tier fails
func (lc *LayeredCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Set(ctx, key, value, lc.capL1(ttl))
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	switch {
	case lc.l2 == nil:
		return l1Err
	case lc.l1 == nil:
		return l2Err
	case l1Err != nil && l2Err != nil:
		return l2Err
	}
	return nil
}

// SetIfAbsent defers to L2 when present so that several processes sharing
// Redis agree on who claimed the key first
func (lc *LayeredCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if lc.l2 != nil {
		ok, err := lc.l2.SetIfAbsent(ctx, key, value, ttl)
		if err == nil {
			if ok && lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, value, lc.capL1(ttl))
			}
			return ok, nil
		}
		if lc.l1 == nil {
			return false, err
		}
	}

	return lc.l1.SetIfAbsent(ctx, key, value, lc.capL1(ttl))
}

// Delete removes a key from both tiers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var firstErr error

	if lc.l1 != nil {
		firstErr = lc.l1.Delete(ctx, key)
	}
	if lc.l2 != nil {
		if err := lc.l2.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Close closes both tiers
func (lc *LayeredCache) Close() error {
	var firstErr error

	if lc.l1 != nil {
		firstErr = lc.l1.Close()
	}
	if lc.l2 != nil {
		if err := lc.l2.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// InvalidateL1 drops a key from L1 only, forcing the next read to L2
func (lc *LayeredCache) InvalidateL1(ctx context.Context, key string) error {
	if lc.l1 != nil {
		return lc.l1.Delete(ctx, key)
	}
	return nil
}

func (lc *LayeredCache) capL1(ttl time.Duration) time.Duration {
	if ttl > lc.l1MaxTTL {
		return lc.l1MaxTTL
	}
	return ttl
}
