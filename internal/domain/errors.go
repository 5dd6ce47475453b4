package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidID indicates a malformed tweet ID or unparseable URL.
	ErrInvalidID = errors.New("invalid tweet id")

	// ErrUnauthorized indicates a missing or wrong shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates an operation on an unknown tweet.
	ErrNotFound = errors.New("tweet not found")

	// ErrConflict indicates a strict create collided with an existing
	// record. The default submit path merges instead of returning this.
	ErrConflict = errors.New("tweet already exists")

	// ErrStorageUnavailable indicates the remote store is unreachable or
	// timed out. Callers decide whether and how to retry; the registry
	// never retries internally.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// StorageError wraps a store-level failure so callers can match it with
// errors.Is(err, ErrStorageUnavailable) while keeping the cause.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
