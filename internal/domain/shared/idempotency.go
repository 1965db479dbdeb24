package shared

import (
	"context"
	"time"
)

// IdempotencyStore is a fast-path cache of recently seen idempotency
// keys. It sits in front of the durable command ledger: a cache hit
// short-circuits the duplicate check, a miss or error falls through to
// the ledger, which remains the source of truth.
type IdempotencyStore interface {
	// MarkSeen records a key with a TTL. Returns true if the key was
	// newly recorded, false if it was already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsSeen checks whether a key has been recorded
	IsSeen(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the store
	Close() error
}

// IdempotencyConfig holds configuration for the dedupe cache
type IdempotencyConfig struct {
	// TTL bounds how long a key is remembered; it must not be shorter
	// than the command dedupe window it fronts
	TTL time.Duration

	// Enabled toggles the cache; disabled means ledger-only checks
	Enabled bool
}

// DefaultIdempotencyConfig returns the default dedupe cache configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
