// Package cache provides a generic, thread-safe TTL cache with statistics and
// optional Prometheus metrics. The client uses it to remember remote paths
// that answered "not found" for a short while.
package cache

import (
	"github.com/veea/vbus/errors"
)

// Cache is a string-keyed cache of V values.
type Cache[V any] interface {
	// Get returns the value and true when key is present and not expired.
	Get(key string) (V, bool)

	// Set stores value under key. It returns true when a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes key. It returns true when the key existed.
	Delete(key string) (bool, error)

	// DeletePrefix removes key and every key below it in dotted notation.
	DeletePrefix(prefix string) int

	// Clear removes all entries.
	Clear() error

	// Size returns the number of stored entries, expired ones included until cleanup.
	Size() int

	// Keys returns the keys of live entries.
	Keys() []string

	// Stats returns the cache statistics.
	Stats() *Statistics

	// Close stops background cleanup.
	Close() error
}

// EvictCallback is called with entries removed by expiry, Delete or Clear.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidValue, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
