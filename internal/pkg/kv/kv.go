// Package kv provides the key-value coordination store used for short-lived
// caches and idempotency keys. Entries are best-effort and non-authoritative;
// a missing or stale entry only causes a cache-miss fallback, never Ledger
// corruption.
package kv

import (
	"context"
	"time"
)

// Store is the coordination store capability interface.
// Implementations are selected at startup, never duck-typed at call sites.
type Store interface {
	// Get returns the value for key. The second return is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores a value only if the key is absent or expired.
	// Returns true if the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
