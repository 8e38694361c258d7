package stores

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get and Delete when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Store is a minimal key-value persistence contract. Values survive a
// JSON round trip, so callers get back plain decoded forms (maps,
// slices, float64 numbers) regardless of the backing implementation.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes the value stored under key, or ErrKeyNotFound.
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
