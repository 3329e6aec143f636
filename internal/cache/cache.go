// Package cache provides the response cache used to avoid repeated analysis
// calls for identical payloads. The default backend is an in-process map with
// lazy per-entry expiry; a Redis backend is available for multi-process
// deployments.
package cache

import (
	"context"
	"time"
)

// Store is the minimal contract shared by the cache backends.
type Store interface {
	// Set stores value under key with an absolute expiry of now+ttl,
	// overwriting any existing entry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key and whether it was present. Entries past
	// their expiry are treated as absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Clear removes all entries.
	Clear(ctx context.Context) error
}
