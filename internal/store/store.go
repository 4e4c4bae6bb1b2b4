// Package store provides the keyed, TTL-aware record stores behind the rate
// limiter and the brute-force guard. Records expire on read and are
// compacted in the background; Update gives callers an atomic
// read-modify-write so concurrent requests for one key never lose counts.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps backend failures (network, serialization).
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("store update conflict")
)

// UpdateFunc computes the next value for a key from its current value.
// exists is false for a first-seen key, in which case current is the zero
// value. A ttl <= 0 deletes the key instead of writing next.
type UpdateFunc[V any] func(current V, exists bool) (next V, ttl time.Duration, err error)

// Store defines the record store contract. Implementations must be safe for
// concurrent use. A missing key is never an error.
type Store[V any] interface {
	// Get returns the live value for key. Expired values are reported absent.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set writes value with the given time-to-live. ttl <= 0 deletes the key.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Update atomically applies fn to the current value of key and returns
	// the value written.
	Update(ctx context.Context, key string, fn UpdateFunc[V]) (V, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Range calls fn for every live entry until fn returns false.
	Range(ctx context.Context, fn func(key string, value V) bool) error

	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close stops background work and releases resources.
	Close() error
}

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time
