package domain

import (
	"context"
	"time"
)

// Store is the remote key-value / sorted-set store backing the registry.
// Every operation is a single-key atomic primitive; no cross-key
// transactions are assumed. Implementations must bound each call (their
// client's own timeout) and report unreachability by wrapping
// ErrStorageUnavailable rather than hanging.
type Store interface {
	// Get returns the value at key, with found=false for a missing key.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes the value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// ZAdd inserts or rescores member in the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRem removes member from the sorted set, reporting whether it was
	// present.
	ZRem(ctx context.Context, key string, member string) (removed bool, err error)

	// ZRangeRev returns members of the sorted set ordered by score
	// descending, over the inclusive index range [start, stop]. A stop of
	// -1 means the end of the set.
	ZRangeRev(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZScore returns member's score, with found=false for a missing member.
	ZScore(ctx context.Context, key string, member string) (score float64, found bool, err error)

	// ZCard returns the cardinality of the sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// Publish sends a payload on a pub/sub channel for external
	// consumers. Best-effort; implementations without pub/sub may no-op.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}
