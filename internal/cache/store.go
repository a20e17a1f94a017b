// Package cache provides the counter store used by the security core: a
// key/value store with per-key TTL, atomic increment and per-key locks.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the counter/cache backend contract.
//
// Increment creates missing keys at 1 and applies ttl only to the key it
// creates. Existing keys keep their expiry, or lack of one, so repeated
// increments never extend the window and Forever counters stay forever.
// Add is an atomic set-if-absent. Lock serializes work on a key across callers (and, for the
// Redis backend, across processes); the returned func releases it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Forever(ctx context.Context, key, value string) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Forget(ctx context.Context, keys ...string) error
	Has(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
	Ping(ctx context.Context) error
}

// GetJSON loads a JSON value into dest. The bool is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON stores value as JSON. A ttl of zero stores it forever.
func PutJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl <= 0 {
		return s.Forever(ctx, key, string(raw))
	}
	return s.Put(ctx, key, string(raw), ttl)
}

// GetInt reads a counter. Missing keys read as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscan(raw, &n); err != nil {
		return 0, fmt.Errorf("decode counter %s: %w", key, err)
	}
	return n, nil
}
