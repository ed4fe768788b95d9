package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already handled.
// It is a fast path in front of durable uniqueness constraints and may forget
// keys after their TTL.
type IdempotencyStore interface {
	// MarkProcessed returns true if key was newly marked, false if it was already present
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is currently marked
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes a mark, used when the work it guarded failed
	Forget(ctx context.Context, key string) error

	// Close releases resources
	Close() error
}
