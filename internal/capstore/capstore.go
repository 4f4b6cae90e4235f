// Package capstore provides the TTL'd key/value store that backs token
// revocation, idle-activity tracking, and rate-limit counters. The
// interface deliberately offers no compare-and-swap: callers must
// tolerate lost updates, and enforcement built on it is approximate.
package capstore

import (
	"context"
	"time"
)

// Store is a key/value store with per-key time-to-live.
type Store interface {
	// Get returns the value for key, or ok=false when the key is
	// absent or its TTL has elapsed.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value under key for ttl. An existing entry is
	// overwritten unconditionally.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
