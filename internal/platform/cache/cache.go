// Package cache provides TTL caches shared by the balance reader and token
// discovery: an in-process LRU, a Redis tier, and a write-through combination.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a stored value cannot be decoded
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache stores string values with a per-entry TTL
type Cache interface {
	// Get retrieves a value, returning ErrNotFound when absent or expired
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with TTL
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores a value only when the key is not present and
	// reports whether it did
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Close releases resources
	Close() error
}
