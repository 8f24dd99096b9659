package cmd

import (
	"strings"

	"github.com/zaplet/zaplet/pkg/dedup"
)

// NewDedupStore picks the duplicate-suppression backend. A redis:// URL
// selects the shared Redis store; empty or anything else falls back to
// the in-process store, which only protects a single worker.
func NewDedupStore(redisURL string) dedup.Store {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		store, err := dedup.NewRedisStore(redisURL)
		if err != nil {
			panic("failed to initialize redis dedup store: " + err.Error())
		}

		return store
	}

	return dedup.NewMemoryStore()
}
