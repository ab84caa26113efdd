// Package kv defines the heuristics key-value store contract: namespaced
// hashes with atomic field increments, capped lists, prefix scans, and one
// global current-version pointer.
package kv

import "context"

// Store is the consumed KV contract. Field increments must be safe under
// concurrent per-counter use without cross-key transactions.
type Store interface {
	// HIncrBy atomically increments an integer hash field.
	HIncrBy(ctx context.Context, key, field string, delta int64) error

	// HIncrByFloat atomically increments a float hash field.
	HIncrByFloat(ctx context.Context, key, field string, delta float64) error

	// HSet sets string hash fields.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns all fields of a hash. Missing keys yield an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// RPushCapped appends values to a list and trims it to the last max
	// elements, giving ring-buffer semantics.
	RPushCapped(ctx context.Context, key string, max int64, values ...string) error

	// LRange returns the full contents of a list.
	LRange(ctx context.Context, key string) ([]string, error)

	// ScanKeys returns all keys matching the given prefix.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Get returns a plain string key, or "" if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a plain string key.
	Set(ctx context.Context, key, value string) error
}
