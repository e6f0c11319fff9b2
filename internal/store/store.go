package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the underlying store could not be reached.
// Callers decide whether to retry; the store never retries on its own.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a flat key-value adapter over the document database. Operations
// are atomic with respect to each other for a single key. A zero TTL means
// the key never expires; a positive TTL is reset on every Set of that key.
type Store interface {
	// Get returns the value for key, or ok=false when the key is absent
	// or has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set writes the value and (re)arms the expiry window.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// ScanKeys enumerates live keys beginning with prefix.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
	// Clear removes every key beginning with prefix.
	Clear(ctx context.Context, prefix string) error
	Close() error
}
