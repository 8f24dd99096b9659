// Package dedup suppresses duplicate trigger deliveries. One logical
// occurrence may reach the engine several times (webhook re-delivery,
// overlapping polls); the store admits the first claim on a key and
// rejects the rest for the TTL window.
package dedup

import (
	"context"
	"time"
)

// DefaultTTL covers the re-delivery window of the providers we poll and
// receive webhooks from.
const DefaultTTL = 24 * time.Hour

// Store is the dedup contract. MarkIfNew returns true when the key was
// not seen before and is now claimed.
type Store interface {
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}
